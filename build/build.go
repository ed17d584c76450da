// Package build is a sample dispatcher.Build runner: it shells out to a
// configured command per builder, collects the working directory's output
// files as artifacts, and caches them through cachepkg so a repeated
// request with an identical cache key skips re-running the command.
package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackhou/buildbot/cachepkg"
	"github.com/jackhou/buildbot/dispatcher"
	"github.com/jackhou/buildbot/types"
)

// Command describes how to run a builder's task: a program and argument
// template, plus the directory it runs in.
type Command struct {
	Program string
	Args    []string
	Dir     string
}

// CommandFactory resolves the Command to run for a builder, request
// properties in hand. It matches dispatcher.BuildFactory's signature,
// one layer down.
type CommandFactory func(builderName string, env, properties map[string]string) (Command, error)

// Runner is a dispatcher.Build backed by a single shelled-out command.
type Runner struct {
	builderName string
	requests    []types.BuildRequest
	cmd         Command
	env         map[string]string
	cache       *cachepkg.Cache
	logger      *slog.Logger
}

// NewFactory adapts a CommandFactory into a dispatcher.BuildFactory.
func NewFactory(commands CommandFactory, cache *cachepkg.Cache, logger *slog.Logger) dispatcher.BuildFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, builderName string, requests []types.BuildRequest, env, properties map[string]string) (dispatcher.Build, error) {
		cmd, err := commands(builderName, env, properties)
		if err != nil {
			return nil, fmt.Errorf("resolve command for %s: %w", builderName, err)
		}
		return &Runner{
			builderName: builderName,
			requests:    requests,
			cmd:         cmd,
			env:         env,
			cache:       cache,
			logger:      logger,
		}, nil
	}
}

// Start runs the configured command to completion and reports the terminal
// outcome via onTerminal. It never returns a non-nil error for a build that
// merely failed; Start's error return is reserved for setup failures that
// should still surface through the Build's terminal callback in
// dispatcher's launchBuild.
func (r *Runner) Start(ctx context.Context, onTerminal func(types.BuildOutcome)) error {
	key := r.cacheKey()

	if r.cache != nil {
		if entry, err := r.cache.Get(key); err == nil {
			r.logger.Info("build cache hit", "builder", r.builderName, "key", key)
			onTerminal(types.BuildOutcome{
				Results:   types.ResultSuccess,
				Duration:  0,
				Artifacts: strings.Split(string(entry.Data), "\n"),
				Metrics:   types.BuildMetrics{CacheHitRate: 1},
			})
			return nil
		}
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.cmd.Program, r.cmd.Args...)
	cmd.Dir = r.cmd.Dir
	cmd.Env = append(os.Environ(), flattenEnv(r.env)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		onTerminal(types.BuildOutcome{Results: types.ResultCancelled, Duration: duration, Error: ctx.Err().Error()})
		return nil
	}
	if err != nil {
		onTerminal(types.BuildOutcome{Results: types.ResultFailure, Duration: duration, Error: out.String()})
		return nil
	}

	artifacts := r.collectArtifacts()
	if r.cache != nil {
		if putErr := r.cache.Put(key, []byte(strings.Join(artifacts, "\n")), map[string]string{"builder": r.builderName}); putErr != nil {
			r.logger.Warn("build artifact cache put failed", "builder", r.builderName, "error", putErr)
		}
	}

	onTerminal(types.BuildOutcome{
		Results:   types.ResultSuccess,
		Duration:  duration,
		Artifacts: artifacts,
	})
	return nil
}

// cacheKey hashes the command, its directory, and the sorted request ids so
// identical re-dispatches of the same requests hit the cache.
func (r *Runner) cacheKey() string {
	ids := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		ids = append(ids, fmt.Sprintf("%d", req.ID))
	}
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%v|%s", r.cmd.Program, r.cmd.Dir, r.cmd.Args, strings.Join(ids, ","))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Runner) collectArtifacts() []string {
	var artifacts []string
	filepath.Walk(r.cmd.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(r.cmd.Dir, path)
		if relErr == nil {
			artifacts = append(artifacts, rel)
		}
		return nil
	})
	return artifacts
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
