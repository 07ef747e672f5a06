package topics

import "strings"

type loadSubjects struct {
	Started   string
	Table     string
	Batch     string
	Completed string
}

type removeSubjects struct {
	Table     string
	Completed string
}

// Load subjects are published while the loader provisions and populates the database
var Load = loadSubjects{
	Started:   "load.started",
	Table:     "load.table",
	Batch:     "load.batch",
	Completed: "load.completed",
}

// Remove subjects are published while the remover deletes its sample
var Remove = removeSubjects{
	Table:     "remove.table",
	Completed: "remove.completed",
}

// Qualify prefixes subject with the configured subject prefix
func Qualify(prefix, subject string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

// All returns the wildcard subject matching every event under prefix
func All(prefix string) string {
	return Qualify(prefix, ">")
}
