package main

import (
	"reflect"
	"testing"
)

func TestSplitCompileArgsFlagsAfterSources(t *testing.T) {
	flagArgs, sources := splitCompileArgs([]string{"a.mfa", "b.mfa", "-o", "out.mfb", "--build-tag", "res-1.0"})
	if !reflect.DeepEqual(sources, []string{"a.mfa", "b.mfa"}) {
		t.Fatalf("sources = %v", sources)
	}
	if !reflect.DeepEqual(flagArgs, []string{"-o", "out.mfb", "--build-tag", "res-1.0"}) {
		t.Fatalf("flagArgs = %v", flagArgs)
	}
}

func TestSplitCompileArgsFlagsBeforeSources(t *testing.T) {
	flagArgs, sources := splitCompileArgs([]string{"-o", "out.mfb", "a.mfa"})
	if !reflect.DeepEqual(sources, []string{"a.mfa"}) {
		t.Fatalf("sources = %v", sources)
	}
	if !reflect.DeepEqual(flagArgs, []string{"-o", "out.mfb"}) {
		t.Fatalf("flagArgs = %v", flagArgs)
	}
}

func TestSplitCompileArgsFlagsInterspersed(t *testing.T) {
	flagArgs, sources := splitCompileArgs([]string{"a.mfa", "-C", "proj", "b.mfa", "--build-tag", "res-1.0"})
	if !reflect.DeepEqual(sources, []string{"a.mfa", "b.mfa"}) {
		t.Fatalf("sources = %v", sources)
	}
	if !reflect.DeepEqual(flagArgs, []string{"-C", "proj", "--build-tag", "res-1.0"}) {
		t.Fatalf("flagArgs = %v", flagArgs)
	}
}

func TestSplitCompileArgsEqualsForm(t *testing.T) {
	flagArgs, sources := splitCompileArgs([]string{"a.mfa", "--build-tag=res-1.0"})
	if !reflect.DeepEqual(sources, []string{"a.mfa"}) {
		t.Fatalf("sources = %v", sources)
	}
	if !reflect.DeepEqual(flagArgs, []string{"--build-tag=res-1.0"}) {
		t.Fatalf("flagArgs = %v", flagArgs)
	}
}

func TestSplitCompileArgsDoubleDashStopsFlagParsing(t *testing.T) {
	flagArgs, sources := splitCompileArgs([]string{"-o", "out.mfb", "--", "-weird-name.mfa"})
	if !reflect.DeepEqual(sources, []string{"-weird-name.mfa"}) {
		t.Fatalf("sources = %v", sources)
	}
	if !reflect.DeepEqual(flagArgs, []string{"-o", "out.mfb"}) {
		t.Fatalf("flagArgs = %v", flagArgs)
	}
}
