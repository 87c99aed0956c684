package authz

// Action is the closed set of access-controlled operations.
type Action int

const (
	ActionCreate Action = iota
	ActionReadAll
	ActionRead
	ActionReadPartial
	ActionWriteAll
	ActionWrite
	ActionWritePartial
	ActionAdmin
	ActionDealTypeWrite
	ActionTeamWrite
)

// PermissionAdministrator is the permission name the admin check requires.
const PermissionAdministrator = "Administrator"

var actionNames = map[Action]string{
	ActionCreate:        "create",
	ActionReadAll:       "read_all",
	ActionRead:          "read",
	ActionReadPartial:   "read_partial",
	ActionWriteAll:      "write_all",
	ActionWrite:         "write",
	ActionWritePartial:  "write_partial",
	ActionAdmin:         "admin",
	ActionDealTypeWrite: "deal_type_write",
	ActionTeamWrite:     "team_write",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// requiredPermissions maps each action to the permission names that satisfy
// it. Constant for process lifetime.
var requiredPermissions = map[Action][]string{
	ActionCreate:        {"Opportunity_Create"},
	ActionReadAll:       {"Opportunities_Read_All"},
	ActionRead:          {"Opportunity_Read_All"},
	ActionReadPartial:   {"Opportunity_Read_Partial"},
	ActionWriteAll:      {"Opportunities_ReadWrite_All"},
	ActionWrite:         {"Opportunity_ReadWrite_All"},
	ActionWritePartial:  {"Opportunity_ReadWrite_Partial"},
	ActionAdmin:         {PermissionAdministrator},
	ActionDealTypeWrite: {"Opportunity_ReadWrite_Dealtype", "Opportunities_ReadWrite_All"},
	ActionTeamWrite:     {"Opportunity_ReadWrite_Team", "Opportunities_ReadWrite_All"},
}

// RequiredPermissions returns the permission names satisfying an action.
// The returned slice is a copy; callers may modify it.
func RequiredPermissions(action Action) []string {
	names, ok := requiredPermissions[action]
	if !ok {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}
