package buildsystem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/lsphost/internal/interfaces"
	"github.com/conneroisu/lsphost/internal/types"
)

func TestFallbackSynthesizesArguments(t *testing.T) {
	fallback := NewFallback(map[types.Language][]string{
		types.LanguageC:   {"-fsyntax-only", "-Wall"},
		types.LanguageCPP: {"-std=c++17"},
	}, "/work")

	settings, err := fallback.BuildSettings(context.Background(), "file:///proj/a.c", types.LanguageC)
	require.NoError(t, err)
	assert.Equal(t, []string{"-fsyntax-only", "-Wall", "/proj/a.c"}, settings.CompilerArguments)
	assert.Equal(t, "/work", settings.WorkingDirectory)

	settings, err = fallback.BuildSettings(context.Background(), "file:///proj/b.cpp", types.LanguageCPP)
	require.NoError(t, err)
	assert.Equal(t, []string{"-std=c++17", "/proj/b.cpp"}, settings.CompilerArguments)
}

func TestFallbackWithoutConfiguredArguments(t *testing.T) {
	fallback := NewFallback(nil, "")
	settings, err := fallback.BuildSettings(context.Background(), "file:///proj/a.swift", types.LanguageSwift)
	require.NoError(t, err)
	assert.Equal(t, []string{"/proj/a.swift"}, settings.CompilerArguments)
}

func TestFallbackCapabilityIsFallback(t *testing.T) {
	fallback := NewFallback(nil, "")
	assert.Equal(t, interfaces.FileFallback, fallback.FileHandlingCapability("file:///proj/a.c"))
}
