package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackhou/buildbot/cachepkg"
	"github.com/jackhou/buildbot/types"
)

func TestRunnerSuccessCollectsArtifacts(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory(func(builderName string, env, properties map[string]string) (Command, error) {
		return Command{Program: "sh", Args: []string{"-c", "echo hi > out.txt"}, Dir: dir}, nil
	}, nil, nil)

	build, err := factory(context.Background(), "compile", []types.BuildRequest{{ID: 1}}, nil, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	done := make(chan types.BuildOutcome, 1)
	if err := build.Start(context.Background(), func(o types.BuildOutcome) { done <- o }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	outcome := <-done

	if outcome.Results != types.ResultSuccess {
		t.Fatalf("expected success, got %s (%s)", outcome.Results, outcome.Error)
	}
	if len(outcome.Artifacts) == 0 {
		t.Fatal("expected at least one collected artifact")
	}
}

func TestRunnerFailureReportsOutput(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory(func(string, map[string]string, map[string]string) (Command, error) {
		return Command{Program: "sh", Args: []string{"-c", "echo boom 1>&2; exit 1"}, Dir: dir}, nil
	}, nil, nil)

	build, _ := factory(context.Background(), "compile", []types.BuildRequest{{ID: 2}}, nil, nil)

	done := make(chan types.BuildOutcome, 1)
	build.Start(context.Background(), func(o types.BuildOutcome) { done <- o })
	outcome := <-done

	if outcome.Results != types.ResultFailure {
		t.Fatalf("expected failure, got %s", outcome.Results)
	}
}

func TestRunnerCacheHitSkipsCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	cache := cachepkg.NewCache(cachepkg.Config{StorageDir: t.TempDir()}, nil, nil)

	factory := NewFactory(func(string, map[string]string, map[string]string) (Command, error) {
		return Command{Program: "sh", Args: []string{"-c", "touch " + marker}, Dir: dir}, nil
	}, cache, nil)

	requests := []types.BuildRequest{{ID: 3}}

	build1, _ := factory(context.Background(), "compile", requests, nil, nil)
	done := make(chan types.BuildOutcome, 1)
	build1.Start(context.Background(), func(o types.BuildOutcome) { done <- o })
	<-done
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected first run to execute command: %v", err)
	}
	os.Remove(marker)

	build2, _ := factory(context.Background(), "compile", requests, nil, nil)
	done2 := make(chan types.BuildOutcome, 1)
	build2.Start(context.Background(), func(o types.BuildOutcome) { done2 <- o })
	outcome := <-done2

	if outcome.Metrics.CacheHitRate != 1 {
		t.Fatalf("expected cache hit on second run, got outcome %+v", outcome)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("expected second run to skip the command entirely")
	}
}
