package labflow

import "context"

// Repository is the engine's view of the content repository (spec §6,
// "out of scope" collaborator, C2): file staging for a workflow's
// defining script and any auxiliary inputs. Before commit, a workflow
// owns a temporary staging folder; commit moves it into a permanent
// per-UUID folder. labflow/repo provides a filesystem-backed adapter.
type Repository interface {
	// MakeTempFolder allocates a new pre-commit staging folder and
	// returns its repository-relative handle.
	MakeTempFolder(ctx context.Context) (string, error)
	// MoveInto moves the temp folder into its permanent location under
	// section/uuid, returning the new folder handle. Must run exactly
	// once per workflow (C2, P8).
	MoveInto(ctx context.Context, tempFolder, section, uuid string) (string, error)
	// InsertPath copies an absolute source path to a relative destination
	// inside folder. It works on temporary and permanent folders alike
	// (Commit uses it to stage the script into the permanent folder);
	// ImmutableAfterCommit is enforced by Workflow.AddPath, not here.
	InsertPath(ctx context.Context, folder, srcAbs, dstRel string) error
	// RemovePath removes a relative path inside folder. It does not check
	// whether folder is permanent; Workflow.RemovePath enforces
	// ImmutableAfterCommit.
	RemovePath(ctx context.Context, folder, rel string) error
	// AbsPath resolves a relative path inside folder to an absolute path.
	AbsPath(folder, rel string) (string, error)
	// List lists the relative paths directly inside relDir within folder.
	List(ctx context.Context, folder, relDir string) ([]string, error)
}
