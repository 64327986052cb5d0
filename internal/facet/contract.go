package facet

import (
	"fmt"
	"reflect"
	"sync"
)

// Contract names the methods and properties a facet's value must
// expose, plus an optional custom validation.
type Contract struct {
	RequiredMethods    []string
	RequiredProperties []string
	Validate           func(f *Facet) error
}

// ContractRegistry maps contract names to definitions. It is an
// explicit singleton: the kernel owns one instance, tests create their
// own, and Reset tears it down deterministically.
type ContractRegistry struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

// NewContractRegistry creates an empty contract registry.
func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{contracts: make(map[string]Contract)}
}

// Register stores a contract under name, replacing any previous one.
func (r *ContractRegistry) Register(name string, c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[name] = c
}

// Get returns the named contract.
func (r *ContractRegistry) Get(name string) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, exists := r.contracts[name]
	return c, exists
}

// Reset removes every registered contract.
func (r *ContractRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts = make(map[string]Contract)
}

// Enforce checks the facet's value against the named contract.
func (r *ContractRegistry) Enforce(name string, f *Facet) error {
	contract, exists := r.Get(name)
	if !exists {
		return &ContractViolationError{Contract: name, Detail: "contract not registered"}
	}

	for _, method := range contract.RequiredMethods {
		if !hasMethod(f.Value, method) {
			return &ContractViolationError{
				Contract: name,
				Detail:   fmt.Sprintf("missing method %s", method),
			}
		}
	}
	for _, prop := range contract.RequiredProperties {
		if !hasProperty(f.Value, prop) {
			return &ContractViolationError{
				Contract: name,
				Detail:   fmt.Sprintf("missing property %s", prop),
			}
		}
	}
	if contract.Validate != nil {
		if err := contract.Validate(f); err != nil {
			return &ContractViolationError{Contract: name, Detail: err.Error()}
		}
	}
	return nil
}

func hasMethod(v any, name string) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).MethodByName(name).IsValid()
}

func hasProperty(v any, name string) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		key := reflect.ValueOf(name)
		if key.Type().AssignableTo(rv.Type().Key()) {
			return rv.MapIndex(key).IsValid()
		}
		return false
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return false
	}
	return rv.FieldByName(name).IsValid()
}
