// Package git provides the git subprocess operations behind shadow repositories.
//
// The package is organized into focused modules:
//   - service.go: Service struct and constructor
//   - changes.go: Porcelain status parsing, diffs, ChangeSet
//   - clone.go: Shallow/full clone, repository init
//   - branch.go: Branch and remote management
//   - commit.go: Staging, committing, pushing
package git
