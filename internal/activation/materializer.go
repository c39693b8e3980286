package activation

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/agentx-labs/kiln/internal/project"
)

// Write commits a single file operation.
func (c *Context) Write(ctx context.Context, op FileOperation) (OpResult, error) {
	key, err := c.resolve(op.Path)
	if err != nil {
		return OpResult{}, err
	}
	res := OpResult{Plugin: c.PluginID(), Kind: KindWrite, Path: key, Mode: op.Mode.String()}

	existing, exists, err := c.fs.ReadFileIfExists(ctx, key)
	if err != nil {
		return res, err
	}

	var data []byte
	switch op.Mode {
	case Create:
		owner, claimed := c.createdBy(key)
		if claimed && owner != res.Plugin {
			return res, &CollisionError{Path: key, Plugin: res.Plugin, Owner: owner}
		}
		ownedThisRun := claimed && owner == res.Plugin
		if exists && c.same(key, res.Plugin, existing, op.Content) {
			if _, ok := c.claim(key); !ok {
				return res, &CollisionError{Path: key, Plugin: res.Plugin, Owner: owner}
			}
			res.Status = OpAlreadyApplied
			c.record(res)
			return res, nil
		}
		if exists && !ownedThisRun {
			return res, &CollisionError{Path: key, Plugin: res.Plugin}
		}
		if owner, ok := c.claim(key); !ok {
			return res, &CollisionError{Path: key, Plugin: res.Plugin, Owner: owner}
		}
		data = op.Content
	case Overwrite:
		if exists && bytes.Equal(existing, op.Content) {
			res.Status = OpAlreadyApplied
			c.record(res)
			return res, nil
		}
		data = op.Content
	case AppendIfMissing:
		block := bytes.TrimRight(op.Content, "\r\n")
		if len(block) == 0 || bytes.Contains(existing, block) {
			res.Status = OpAlreadyApplied
			c.record(res)
			return res, nil
		}
		if err := c.fs.AppendFile(ctx, key, appendSuffix(existing, op.Content), op.Perm); err != nil {
			return res, err
		}
		return c.applied(res), nil
	default:
		return res, fmt.Errorf("writing %s: unknown mode %v", key, op.Mode)
	}

	if err := c.fs.WriteFile(ctx, key, data, op.Perm); err != nil {
		return res, err
	}
	return c.applied(res), nil
}

func (c *Context) applied(res OpResult) OpResult {
	res.Status = OpApplied
	c.record(res)
	c.log.Debug("wrote file", "plugin", res.Plugin, "path", res.Path, "mode", res.Mode)
	return res
}

// WriteAll commits ops with a bounded worker pool. Operations on the same
// path run in declaration order on one worker. After the first error no
// further paths are started; writes already running are allowed to finish.
// Results are returned in the order of ops.
func (c *Context) WriteAll(ctx context.Context, ops ...FileOperation) ([]OpResult, error) {
	results := make([]OpResult, len(ops))

	var order []string
	groups := make(map[string][]int)
	for i, op := range ops {
		key, err := c.resolve(op.Path)
		if err != nil {
			return nil, err
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.concurrency)
		mu       sync.Mutex
		firstErr error
		stopped  error
	)
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	for _, key := range order {
		idx := groups[key]
		sem <- struct{}{}
		if failed() {
			<-sem
			break
		}
		if err := ctx.Err(); err != nil {
			<-sem
			stopped = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			for _, i := range idx {
				res, err := c.Write(ctx, ops[i])
				results[i] = res
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return results, firstErr
	}
	return results, stopped
}

func (c *Context) same(key, plugin string, existing, proposed []byte) bool {
	if f, ok := c.known[key]; ok && f.Plugin == plugin && f.Digest == project.Digest(existing) {
		return true
	}
	if cmp := c.comparator(key); cmp != nil {
		return cmp(existing, proposed)
	}
	return bytes.Equal(existing, proposed)
}

// appendSuffix returns what to append to existing so that block follows it
// on its own line.
func appendSuffix(existing, block []byte) []byte {
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		return append([]byte{'\n'}, block...)
	}
	return block
}
