package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pySource = `import os
from subprocess import run

def handler(req):
    cmd = req.args["cmd"]
    run(cmd, shell=True)

def safe():
    return 1
`

func TestParsePythonFunctions(t *testing.T) {
	p := NewParser()
	tree, err := p.Parse("python", []byte(pySource))
	require.NoError(t, err)
	defer tree.Close()

	funcs := tree.Functions()
	require.Len(t, funcs, 2)
	assert.Equal(t, "handler", funcs[0].Name)
	assert.Equal(t, 4, funcs[0].StartLine)
	assert.Equal(t, "safe", funcs[1].Name)
}

func TestImportLines(t *testing.T) {
	p := NewParser()
	tree, err := p.Parse("python", []byte(pySource))
	require.NoError(t, err)
	defer tree.Close()

	imports := tree.ImportLines()
	assert.True(t, imports[1])
	assert.True(t, imports[2])
	assert.False(t, imports[4])
}

func TestEnclosingFunction(t *testing.T) {
	p := NewParser()
	tree, err := p.Parse("python", []byte(pySource))
	require.NoError(t, err)
	defer tree.Close()

	fn := tree.EnclosingFunction(5)
	require.NotNil(t, fn)
	assert.Equal(t, "handler", fn.Name)

	assert.Nil(t, tree.EnclosingFunction(1))
}

func TestParseGoFunctions(t *testing.T) {
	src := `package main

import "os/exec"

func run(cmd string) {
	exec.Command("sh", "-c", cmd)
}
`
	p := NewParser()
	tree, err := p.Parse("go", []byte(src))
	require.NoError(t, err)
	defer tree.Close()

	funcs := tree.Functions()
	require.Len(t, funcs, 1)
	assert.Equal(t, "run", funcs[0].Name)
	assert.True(t, tree.ImportLines()[3])
}

func TestParseUnsupportedLanguage(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("cobol", []byte("x"))
	require.Error(t, err)
	assert.False(t, Supported("cobol"))
	assert.True(t, Supported("python"))
}
