package activation

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Patch inserts op.Insertion next to the line holding op.Anchor. A target
// that already contains the patch token is left untouched.
func (c *Context) Patch(ctx context.Context, op PatchOperation) (OpResult, error) {
	key, err := c.resolve(op.Target)
	if err != nil {
		return OpResult{}, err
	}
	res := OpResult{Plugin: c.PluginID(), Kind: KindPatch, Path: key, Mode: op.Placement.String()}
	if strings.TrimSpace(op.Insertion) == "" {
		return res, fmt.Errorf("patching %s: %w", key, ErrEmptyInsertion)
	}

	data, exists, err := c.fs.ReadFileIfExists(ctx, key)
	if err != nil {
		return res, err
	}
	if !exists {
		return c.missingAnchor(res, &AnchorError{Target: key, Anchor: op.Anchor, MissingFile: true}, op.Optional)
	}

	if token := op.token(); token != "" && bytes.Contains(data, []byte(token)) {
		res.Status = OpAlreadyApplied
		c.record(res)
		return res, nil
	}

	start, end, err := findAnchor(data, op)
	if err != nil {
		return res, err
	}
	if start < 0 {
		return c.missingAnchor(res, &AnchorError{Target: key, Anchor: op.Anchor}, op.Optional)
	}

	patched := insertAt(data, start, end, op)
	if err := c.fs.WriteFile(ctx, key, patched, 0); err != nil {
		return res, err
	}
	res.Status = OpApplied
	c.record(res)
	c.log.Debug("patched file", "plugin", res.Plugin, "path", key, "placement", res.Mode)
	return res, nil
}

// PatchAll applies ops in order and stops at the first error.
func (c *Context) PatchAll(ctx context.Context, ops ...PatchOperation) ([]OpResult, error) {
	results := make([]OpResult, 0, len(ops))
	for _, op := range ops {
		res, err := c.Patch(ctx, op)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (c *Context) missingAnchor(res OpResult, err *AnchorError, optional bool) (OpResult, error) {
	if !optional {
		return res, err
	}
	res.Status = OpSkipped
	c.record(res)
	c.log.Debug("skipped optional patch", "plugin", res.Plugin, "path", res.Path, "reason", err.Error())
	return res, nil
}

// findAnchor returns the byte span of the first anchor match, or -1.
func findAnchor(data []byte, op PatchOperation) (int, int, error) {
	if op.Anchor == "" {
		return 0, 0, fmt.Errorf("patching %s: empty anchor", op.Target)
	}
	if op.Regexp {
		re, err := regexp.Compile(op.Anchor)
		if err != nil {
			return 0, 0, fmt.Errorf("patching %s: compiling anchor: %w", op.Target, err)
		}
		loc := re.FindIndex(data)
		if loc == nil {
			return -1, -1, nil
		}
		return loc[0], loc[1], nil
	}
	i := bytes.Index(data, []byte(op.Anchor))
	if i < 0 {
		return -1, -1, nil
	}
	return i, i + len(op.Anchor), nil
}

// insertAt places the insertion on its own line after the line containing
// the anchor end, or before the line containing the anchor start. Line
// endings follow the target file.
func insertAt(data []byte, start, end int, op PatchOperation) []byte {
	eol := "\n"
	if bytes.Contains(data, []byte("\r\n")) {
		eol = "\r\n"
	}
	block := strings.ReplaceAll(op.Insertion, "\r\n", "\n")
	block = strings.TrimRight(block, "\n")
	block = strings.ReplaceAll(block, "\n", eol) + eol

	var at int
	prefix := ""
	if op.Placement == Before {
		at = bytes.LastIndexByte(data[:start], '\n') + 1
	} else {
		nl := bytes.IndexByte(data[end:], '\n')
		if nl < 0 {
			at = len(data)
			prefix = eol
		} else {
			at = end + nl + 1
		}
	}

	out := make([]byte, 0, len(data)+len(prefix)+len(block))
	out = append(out, data[:at]...)
	out = append(out, prefix...)
	out = append(out, block...)
	return append(out, data[at:]...)
}
