package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/moody/model"
)

const testSchema = `{
  "directors": {"fields": [
    {"name": "id", "type": "oid", "index": "primary"},
    {"name": "name", "type": "string", "required": true}
  ]},
  "movies": {"fields": [
    {"name": "id", "type": "oid", "index": "primary"},
    {"name": "title", "type": "string", "required": true, "index": "sort"},
    {"name": "genre", "type": "string", "index": true},
    {"name": "director", "type": "pointer"},
    {"name": "year", "type": "number"}
  ]}
}`

const testScenario = `{
  "directors": [{"$": "$ron", "name": "Ron"}],
  "movies": [
    {"title": "Rush", "genre": "drama", "director": "$ron", "year": 2013},
    {"title": "Apollo 13", "genre": "drama", "director": "$ron", "year": 1995},
    {"title": "Willow", "genre": "fantasy", "director": "$ron", "year": 1988}
  ]
}`

func fixtures(t *testing.T) (schema, data string) {
	t.Helper()
	dir := t.TempDir()
	schema = filepath.Join(dir, "schema.json")
	data = filepath.Join(dir, "data", "scenario.json")
	require.NoError(t, os.WriteFile(schema, []byte(testSchema), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(data), 0o755))
	require.NoError(t, os.WriteFile(data, []byte(testScenario), 0o644))
	return schema, data
}

func run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.Bytes(), err
}

func TestScenarioCommand(t *testing.T) {
	schema, data := fixtures(t)

	out, err := run(t, "scenario", filepath.Join(filepath.Dir(data), "*.json"), "--schema", schema, "--memory")
	require.NoError(t, err)

	var stats struct {
		Created map[string]int `json:"created"`
		Cycles  int            `json:"cycles"`
		Lookup  map[string]any `json:"lookup"`
	}
	require.NoError(t, json.Unmarshal(out, &stats))
	assert.Equal(t, map[string]int{"directors": 1, "movies": 3}, stats.Created)
	assert.Equal(t, 2, stats.Cycles)
	assert.Contains(t, stats.Lookup, "$ron")
}

func TestFindCommand(t *testing.T) {
	schema, data := fixtures(t)

	out, err := run(t, "find", "movies",
		"--schema", schema, "--memory", "--seed", data,
		"--filter", `{"genre":"drama"}`,
		"--sort", "-year",
		"--select", "title,year",
	)
	require.NoError(t, err)

	var docs []map[string]any
	require.NoError(t, json.Unmarshal(out, &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "Rush", docs[0]["title"])
	assert.Equal(t, "Apollo 13", docs[1]["title"])
	assert.Contains(t, docs[0], "id")
	assert.NotContains(t, docs[0], "genre")
}

func TestFindCommand_One(t *testing.T) {
	schema, data := fixtures(t)

	out, err := run(t, "find", "directors", "--schema", schema, "--memory", "--seed", data,
		"--filter", `{"name":"Ron"}`, "--one")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "Ron", doc["name"])

	out, err = run(t, "find", "directors", "--schema", schema, "--memory",
		"--filter", `{"name":"Ridley"}`, "--one")
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(out))
}

func TestCountCommand(t *testing.T) {
	schema, data := fixtures(t)

	out, err := run(t, "count", "movies", "--schema", schema, "--memory", "--seed", data,
		"--filter", `{"year":{"$gt":1990}}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count": 2}`, string(out))
}

func TestCommandErrors(t *testing.T) {
	schema, data := fixtures(t)

	_, err := run(t, "find", "studios", "--schema", schema, "--memory")
	assert.ErrorIs(t, err, model.ErrUnknownModel)

	_, err = run(t, "find", "movies", "--schema", schema, "--memory", "--filter", `{"year":{"$lt":2000}}`)
	assert.ErrorIs(t, err, model.ErrUnsupportedOperator)

	_, err = run(t, "find", "movies", "--schema", schema, "--memory", "--using", "filterNothing")
	assert.ErrorIs(t, err, model.ErrUnknownIndex)

	_, err = run(t, "find", "movies", "--schema", schema, "--memory", "--filter", `not json`)
	assert.Error(t, err)

	_, err = run(t, "find", "movies", "--schema", filepath.Join(filepath.Dir(data), "missing.json"), "--memory")
	assert.Error(t, err)
}
