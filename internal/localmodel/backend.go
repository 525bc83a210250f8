// Package localmodel is the boundary to in-process or on-device models.
// The router only depends on Backend and Resolver; Ollama is one
// implementation of Backend.
package localmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Task is the local task identifier an operation is served by. Several
// operations share a task (and therefore a model).
type Task string

const (
	TaskClassify      Task = "classify"
	TaskTags          Task = "tags"
	TaskFolders       Task = "folders"
	TaskName          Task = "name"
	TaskRelationships Task = "relationships"
	TaskFormat        Task = "format"
	TaskChunks        Task = "chunks"
	TaskVision        Task = "vision"
	TaskTranscribe    Task = "transcribe"
)

var tasks = []Task{
	TaskClassify, TaskTags, TaskFolders, TaskName, TaskRelationships,
	TaskFormat, TaskChunks, TaskVision, TaskTranscribe,
}

// Tasks returns every known task identifier.
func Tasks() []Task {
	return slices.Clone(tasks)
}

// ParseTask looks up a task identifier.
func ParseTask(s string) (Task, error) {
	t := Task(s)
	if !slices.Contains(tasks, t) {
		return "", fmt.Errorf("unknown local task %q", s)
	}
	return t, nil
}

// Invocation is one call into a local model.
type Invocation struct {
	Task  Task
	Model string
	// Field is the name of the object field the caller will read.
	Field string
	// Inputs carries the operation's named fields.
	Inputs any
	// Attachments holds raw binary inputs (images, audio).
	Attachments [][]byte
}

// Response is the structured object a local model returns.
type Response struct {
	Object map[string]json.RawMessage
}

// Backend executes local model invocations.
type Backend interface {
	Invoke(ctx context.Context, inv Invocation) (Response, error)
}

// TaskSupporter is implemented by backends that serve only some tasks.
type TaskSupporter interface {
	Supports(task Task) bool
}

// Resolver maps a task to the model that serves it.
type Resolver interface {
	ModelFor(task Task) (string, bool)
}

// StaticResolver is a Resolver backed by a fixed task→model table.
type StaticResolver map[Task]string

// ModelFor implements Resolver.
func (r StaticResolver) ModelFor(task Task) (string, bool) {
	m, ok := r[task]
	return m, ok && m != ""
}
