package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"pursuit/internal/config"
	"pursuit/internal/domain"
)

// Catalog queries. Permissions and roles are fetched fresh per authorization
// decision; any caching belongs to the caller.

func (r Repo) Permissions(ctx context.Context) ([]domain.Permission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) Roles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,display_name,COALESCE(ad_group_name,'') AS ad_group_name,teams_membership FROM roles ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var (
			role  domain.Role
			teams int
		)
		if err := rows.Scan(&role.ID, &role.DisplayName, &role.ADGroupName, &teams); err != nil {
			return nil, err
		}
		role.TeamsMembership = teams != 0
		res = append(res, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		perms, err := r.rolePermissions(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Permissions = perms
	}
	return res, nil
}

func (r Repo) rolePermissions(ctx context.Context, roleID string) ([]domain.Permission, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT p.id,p.name FROM role_permissions rp JOIN permissions p ON p.id=rp.permission_id WHERE rp.role_id=? ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r Repo) UserProfileByUPN(ctx context.Context, upn string) (domain.UserProfile, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,display_name,upn FROM user_profiles WHERE upn=? COLLATE NOCASE`, upn)
	var p domain.UserProfile
	err := row.Scan(&p.ID, &p.DisplayName, &p.UserPrincipalName)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT role_name FROM user_profile_roles WHERE profile_id=?`, p.ID)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return p, err
		}
		p.RoleNames = append(p.RoleNames, name)
	}
	return p, rows.Err()
}

func (r Repo) UpsertUserProfile(ctx context.Context, tx *sql.Tx, p domain.UserProfile) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_profiles(id,display_name,upn) VALUES (?,?,?)
		 ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, upn=excluded.upn`,
		p.ID, p.DisplayName, p.UserPrincipalName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_profile_roles WHERE profile_id=?`, p.ID); err != nil {
		return err
	}
	for _, name := range p.RoleNames {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_profile_roles(profile_id,role_name) VALUES (?,?)`, p.ID, name); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),process_list_json FROM templates WHERE id=?`, id)
	var (
		t       domain.Template
		rawList string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &rawList)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(rawList), &t.ProcessList); err != nil {
		return t, fmt.Errorf("decode template process list: %w", err)
	}
	return t, nil
}

func (r Repo) UpsertTemplate(ctx context.Context, t domain.Template) error {
	raw, err := json.Marshal(t.ProcessList)
	if err != nil {
		return fmt.Errorf("encode template process list: %w", err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO templates(id,name,description,process_list_json) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, process_list_json=excluded.process_list_json`,
		t.ID, t.Name, nullable(t.Description), string(raw))
	return err
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),process_list_json FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		var (
			t       domain.Template
			rawList string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &rawList); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawList), &t.ProcessList); err != nil {
			return nil, fmt.Errorf("decode template process list: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SeedCatalog loads the role/permission catalog from config into the
// database. Idempotent: existing rows are replaced, not duplicated.
func (r Repo) SeedCatalog(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	permIDs := map[string]string{}
	roleIDs := make([]string, 0, len(cfg.RBAC.Roles))
	for id := range cfg.RBAC.Roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, roleID := range roleIDs {
		role := cfg.RBAC.Roles[roleID]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roles(id,display_name,ad_group_name,teams_membership) VALUES (?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, ad_group_name=excluded.ad_group_name, teams_membership=excluded.teams_membership`,
			roleID, role.DisplayName, nullable(role.ADGroupName), boolInt(role.TeamsMembership)); err != nil {
			return fmt.Errorf("seed role %s: %w", roleID, err)
		}
		for _, permName := range role.Permissions {
			permID, ok := permIDs[permName]
			if !ok {
				permID = permName
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO permissions(id,name) VALUES (?,?)`, permID, permName); err != nil {
					return fmt.Errorf("seed permission %s: %w", permName, err)
				}
				permIDs[permName] = permID
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO role_permissions(role_id,permission_id) VALUES (?,?)`, roleID, permID); err != nil {
				return fmt.Errorf("seed role permission %s/%s: %w", roleID, permName, err)
			}
		}
	}
	return tx.Commit()
}
