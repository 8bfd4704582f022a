package sync

import (
	"sort"

	"github.com/samber/lo"

	"github.com/chmdznr/corpussync/pkg/models"
)

// UploadReason says why a local file is queued for upload.
type UploadReason string

const (
	ReasonMissing UploadReason = "missing"
	ReasonNewer   UploadReason = "newer"
)

// Upload is a planned transfer. Stale is the remote copy it replaces, if any.
type Upload struct {
	File   models.LocalFile
	Stale  *models.RemoteFile
	Reason UploadReason
}

// Plan is the set of operations that converge remote onto local.
type Plan struct {
	Delete    []models.RemoteFile
	Upload    []Upload
	Unchanged []string
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Upload) == 0
}

// NewPlan compares local metadata against the remote listing. Remote records
// without a local match are deleted, as are all but the newest record of a
// display name that appears more than once. Local files absent remotely, or
// modified strictly after the remote update time, are uploaded.
func NewPlan(local []models.LocalFile, remote []models.RemoteFile) Plan {
	var plan Plan

	localByName := lo.KeyBy(local, func(f models.LocalFile) string { return f.Name })
	remoteByName := lo.GroupBy(remote, func(f models.RemoteFile) string { return f.DisplayName })

	newest := make(map[string]models.RemoteFile, len(remoteByName))
	for name, group := range remoteByName {
		if _, ok := localByName[name]; !ok {
			plan.Delete = append(plan.Delete, group...)
			continue
		}
		keep := lo.MaxBy(group, func(a, b models.RemoteFile) bool {
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.ID > b.ID
			}
			return a.UpdatedAt.After(b.UpdatedAt)
		})
		newest[name] = keep
		plan.Delete = append(plan.Delete, lo.Reject(group, func(f models.RemoteFile, _ int) bool {
			return f.ID == keep.ID
		})...)
	}

	for _, file := range local {
		existing, ok := newest[file.Name]
		switch {
		case !ok:
			plan.Upload = append(plan.Upload, Upload{File: file, Reason: ReasonMissing})
		case file.Modified.After(existing.UpdatedAt):
			stale := existing
			plan.Upload = append(plan.Upload, Upload{File: file, Stale: &stale, Reason: ReasonNewer})
		default:
			plan.Unchanged = append(plan.Unchanged, file.Name)
		}
	}

	// map iteration order leaks into Delete; keep output stable for callers and logs
	sort.Slice(plan.Delete, func(i, j int) bool {
		if plan.Delete[i].DisplayName == plan.Delete[j].DisplayName {
			return plan.Delete[i].ID < plan.Delete[j].ID
		}
		return plan.Delete[i].DisplayName < plan.Delete[j].DisplayName
	})
	sort.Slice(plan.Upload, func(i, j int) bool { return plan.Upload[i].File.Name < plan.Upload[j].File.Name })
	sort.Strings(plan.Unchanged)
	return plan
}
