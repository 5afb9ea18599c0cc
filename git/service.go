package git

import (
	dexec "github.com/zhubert/drydock/exec"
)

// Service provides git operations with explicit dependency injection.
// Instead of using a package-level executor variable, each Service instance
// holds its own executor, enabling proper testing and avoiding global state.
type Service struct {
	executor dexec.CommandExecutor
}

// NewService creates a new Service with the default real executor.
func NewService() *Service {
	return &Service{executor: dexec.NewRealExecutor()}
}

// NewServiceWithExecutor creates a new Service with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewServiceWithExecutor(exec dexec.CommandExecutor) *Service {
	return &Service{executor: exec}
}
