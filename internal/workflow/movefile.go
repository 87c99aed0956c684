package workflow

import (
	"context"
	"fmt"
	"path"
	"strings"

	"pursuit/internal/domain"
)

// Characters stripped from an opportunity's display name when deriving its
// site path. Deterministic: the same name always yields the same path.
const siteNameStrip = " \t~#%&*{}\\:<>?/+|\"'.,!()@$^=[];`-"

func sanitizeSiteName(displayName string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(siteNameStrip, r) {
			return -1
		}
		return r
	}, displayName)
}

// MoveTempFileToTeam relocates staged attachments into the opportunity's
// permanent site. A no-op when nothing is staged. Per-file move failures are
// logged and skipped; the temp-folder cleanup at the end is not guarded and
// aborts the relocation on failure.
func (o *Orchestrator) MoveTempFileToTeam(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if !opp.HasTempAttachments() {
		return opp, nil
	}

	hostName := o.Config.Sites.HostName
	rootPath := o.Config.Sites.RootPath
	tempPath := o.Config.Sites.TempFolderPath

	destName := sanitizeSiteName(opp.DisplayName)
	destSite, err := o.Sites.ResolveSiteID(ctx, hostName, path.Join(rootPath, destName), requestID)
	if err != nil {
		return opp, fmt.Errorf("resolve site for %s: %w", destName, err)
	}
	rootSite, err := o.Sites.ResolveSiteID(ctx, hostName, rootPath, requestID)
	if err != nil {
		return opp, fmt.Errorf("resolve root site: %w", err)
	}

	rebuilt := make([]domain.DocumentAttachment, 0, len(opp.DocumentAttachments))
	for _, att := range opp.DocumentAttachments {
		if att.FolderLocation != domain.FolderLocationTemp {
			rebuilt = append(rebuilt, att)
			continue
		}
		from := path.Join(tempPath, opp.ID, att.FileName)
		to := path.Join("/General", att.FileName)
		if err := o.Sites.MoveFile(ctx, rootSite, from, destSite, to, requestID); err != nil {
			o.logger().Printf("request_id %s: move %s for opportunity %s: %v", requestID, att.FileName, opp.ID, err)
		}
		// The attachment joins the permanent list either way; its URI is
		// reissued by the site on next read.
		att.FolderLocation = ""
		att.DocumentURI = ""
		rebuilt = append(rebuilt, att)
	}

	if err := o.Sites.DeleteFileOrFolder(ctx, rootSite, path.Join(tempPath, opp.ID), requestID); err != nil {
		return opp, fmt.Errorf("delete temp folder for opportunity %s: %w", opp.ID, err)
	}
	opp.DocumentAttachments = rebuilt
	return opp, nil
}
