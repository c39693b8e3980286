package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const appJS = `const app = express();

// routes
app.listen(3000);
`

func writeTarget(t *testing.T, root, name, content string) string {
	t.Helper()
	p := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPatch_InsertAfterAnchor(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	target := writeTarget(t, root, "src/app.js", appJS)
	ac.begin("routes-health")

	op := PatchOperation{
		Target:    "src/app.js",
		Anchor:    "// routes",
		Insertion: "app.use(require('./routes/health'));",
	}
	res, err := ac.Patch(context.Background(), op)
	if err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if res.Status != OpApplied || res.Kind != KindPatch {
		t.Errorf("result = %+v, want applied patch", res)
	}
	want := "const app = express();\n\n// routes\napp.use(require('./routes/health'));\napp.listen(3000);\n"
	if got := readFile(t, target); got != want {
		t.Errorf("content =\n%s\nwant\n%s", got, want)
	}
}

func TestPatch_Idempotent(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	target := writeTarget(t, root, "src/app.js", appJS)
	ac.begin("routes-health")
	ctx := context.Background()
	op := PatchOperation{Target: "src/app.js", Anchor: "// routes", Insertion: "app.use(health);\n"}

	if _, err := ac.Patch(ctx, op); err != nil {
		t.Fatalf("first Patch() error: %v", err)
	}
	once := readFile(t, target)
	res, err := ac.Patch(ctx, op)
	if err != nil {
		t.Fatalf("second Patch() error: %v", err)
	}
	if res.Status != OpAlreadyApplied {
		t.Errorf("Status = %q, want %q", res.Status, OpAlreadyApplied)
	}
	if got := readFile(t, target); got != once {
		t.Errorf("second patch changed file:\n%s", got)
	}
}

func TestPatch_BeforeAnchorWithRegexp(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	target := writeTarget(t, root, "src/app.js", appJS)
	ac.begin("p")

	op := PatchOperation{
		Target:    "src/app.js",
		Anchor:    `app\.listen\(\d+\)`,
		Regexp:    true,
		Insertion: "app.use(errors);",
		Placement: Before,
	}
	if _, err := ac.Patch(context.Background(), op); err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	want := "const app = express();\n\n// routes\napp.use(errors);\napp.listen(3000);\n"
	if got := readFile(t, target); got != want {
		t.Errorf("content =\n%s\nwant\n%s", got, want)
	}
}

func TestPatch_CustomToken(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	target := writeTarget(t, root, "src/app.js", appJS+"// kiln:health\n")
	ac.begin("p")

	res, err := ac.Patch(context.Background(), PatchOperation{
		Target: "src/app.js", Anchor: "// routes", Insertion: "app.use(health);", Token: "// kiln:health",
	})
	if err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if res.Status != OpAlreadyApplied {
		t.Errorf("Status = %q, want %q", res.Status, OpAlreadyApplied)
	}
	if got := readFile(t, target); got != appJS+"// kiln:health\n" {
		t.Errorf("file changed: %q", got)
	}
}

func TestPatch_CRLFTarget(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	target := writeTarget(t, root, "a.js", "one\r\ntwo\r\n")
	ac.begin("p")

	if _, err := ac.Patch(context.Background(), PatchOperation{Target: "a.js", Anchor: "one", Insertion: "x\ny"}); err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if got := readFile(t, target); got != "one\r\nx\r\ny\r\ntwo\r\n" {
		t.Errorf("content = %q", got)
	}
}

func TestPatch_AnchorAtEOFWithoutNewline(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	target := writeTarget(t, root, "a.js", "last")
	ac.begin("p")

	if _, err := ac.Patch(context.Background(), PatchOperation{Target: "a.js", Anchor: "last", Insertion: "next"}); err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if got := readFile(t, target); got != "last\nnext\n" {
		t.Errorf("content = %q", got)
	}
}

func TestPatch_MissingAnchor(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	writeTarget(t, root, "src/app.js", appJS)
	ac.begin("p")

	_, err := ac.Patch(context.Background(), PatchOperation{Target: "src/app.js", Anchor: "// middleware", Insertion: "x"})
	var ae *AnchorError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want *AnchorError", err)
	}
	if ae.MissingFile {
		t.Error("MissingFile = true, want false")
	}
	if !errors.Is(err, ErrAnchorNotFound) {
		t.Error("errors.Is(err, ErrAnchorNotFound) = false")
	}
}

func TestPatch_EmptyInsertionRejected(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	path := writeTarget(t, root, "src/app.js", appJS)
	ac.begin("p")

	for _, insertion := range []string{"", "  \n"} {
		_, err := ac.Patch(context.Background(), PatchOperation{Target: "src/app.js", Anchor: "// routes", Insertion: insertion})
		if !errors.Is(err, ErrEmptyInsertion) {
			t.Errorf("Patch(insertion %q) error = %v, want ErrEmptyInsertion", insertion, err)
		}
	}
	if got := readFile(t, path); got != appJS {
		t.Errorf("target changed:\n%s", got)
	}
	if len(ac.Operations()) != 0 {
		t.Errorf("Operations = %v, want none recorded", ac.Operations())
	}
}

func TestPatch_MissingTarget(t *testing.T) {
	ac, _ := newTestContext(t, ContextOptions{})
	ac.begin("p")

	_, err := ac.Patch(context.Background(), PatchOperation{Target: "src/app.js", Anchor: "// routes", Insertion: "x"})
	var ae *AnchorError
	if !errors.As(err, &ae) || !ae.MissingFile {
		t.Fatalf("error = %v, want *AnchorError with MissingFile", err)
	}
}

func TestPatch_OptionalSkips(t *testing.T) {
	ac, _ := newTestContext(t, ContextOptions{})
	ac.begin("p")

	res, err := ac.Patch(context.Background(), PatchOperation{Target: "src/app.js", Anchor: "// routes", Insertion: "x", Optional: true})
	if err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if res.Status != OpSkipped {
		t.Errorf("Status = %q, want %q", res.Status, OpSkipped)
	}
	if ops := ac.Operations(); len(ops) != 1 || ops[0].Status != OpSkipped {
		t.Errorf("Operations() = %v, want one skipped patch", ops)
	}
}

func TestPatchAll_StopsAtFirstError(t *testing.T) {
	ac, root := newTestContext(t, ContextOptions{})
	writeTarget(t, root, "a.js", "anchor\n")
	ac.begin("p")

	results, err := ac.PatchAll(context.Background(),
		PatchOperation{Target: "a.js", Anchor: "anchor", Insertion: "one"},
		PatchOperation{Target: "a.js", Anchor: "missing", Insertion: "two"},
		PatchOperation{Target: "a.js", Anchor: "anchor", Insertion: "three"},
	)
	if !errors.Is(err, ErrAnchorNotFound) {
		t.Fatalf("error = %v, want ErrAnchorNotFound", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}
