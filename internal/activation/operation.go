package activation

import (
	"fmt"
	"os"
	"strings"
)

// Mode selects how a FileOperation treats an existing file.
type Mode int

const (
	// Create writes a new file. An existing file with different content is
	// a collision unless this plugin created it earlier in the run.
	Create Mode = iota
	// Overwrite replaces the file unconditionally.
	Overwrite
	// AppendIfMissing appends the content unless it is already present.
	AppendIfMissing
)

func (m Mode) String() string {
	switch m {
	case Create:
		return "create"
	case Overwrite:
		return "overwrite"
	case AppendIfMissing:
		return "append-if-missing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the textual form used in plugin manifests. An empty
// string is Create.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "create":
		return Create, nil
	case "overwrite":
		return Overwrite, nil
	case "append-if-missing", "append":
		return AppendIfMissing, nil
	default:
		return 0, fmt.Errorf("unknown file mode %q", s)
	}
}

// FileOperation writes one file under the root.
type FileOperation struct {
	Path    string
	Content []byte
	Mode    Mode
	// Perm applies to the written file. Zero keeps the current mode of an
	// existing file and uses 0644 for a new one.
	Perm os.FileMode
}

// Placement positions a patch insertion relative to its anchor line.
type Placement int

const (
	After Placement = iota
	Before
)

func (p Placement) String() string {
	if p == Before {
		return "before"
	}
	return "after"
}

// PatchOperation inserts text next to an anchor in an existing file.
type PatchOperation struct {
	Target string
	// Anchor is matched literally unless Regexp is set.
	Anchor    string
	Regexp    bool
	Insertion string
	// Token marks the patch as applied. It defaults to the trimmed
	// insertion.
	Token     string
	Placement Placement
	// Optional patches are skipped when the target or anchor is missing.
	Optional bool
}

func (p PatchOperation) token() string {
	if p.Token != "" {
		return p.Token
	}
	return strings.TrimSpace(p.Insertion)
}

// OpKind distinguishes the two kinds of recorded operation.
type OpKind string

const (
	KindWrite OpKind = "write"
	KindPatch OpKind = "patch"
)

// OpStatus is the effect an operation had on disk.
type OpStatus string

const (
	OpApplied        OpStatus = "applied"
	OpAlreadyApplied OpStatus = "already-applied"
	OpSkipped        OpStatus = "skipped"
)

// OpResult records one committed operation.
type OpResult struct {
	Plugin string   `json:"plugin"`
	Kind   OpKind   `json:"kind"`
	Path   string   `json:"path"`
	Mode   string   `json:"mode,omitempty"`
	Status OpStatus `json:"status"`
}

// Changed reports whether the operation modified the filesystem.
func (r OpResult) Changed() bool { return r.Status == OpApplied }
