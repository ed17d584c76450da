package statussink

import "sync"

// Call records a single Sink method invocation, for test assertions.
type Call struct {
	Method      string
	BuilderName string
	Args        []interface{}
}

// MemorySink records every call made to it. Safe for concurrent use.
type MemorySink struct {
	mu    sync.Mutex
	Calls []Call
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, c)
}

func (s *MemorySink) BuilderAdded(name, category, description string) {
	s.record(Call{Method: "BuilderAdded", BuilderName: name, Args: []interface{}{category, description}})
}

func (s *MemorySink) SetWorkernames(builderName string, names []string) {
	s.record(Call{Method: "SetWorkernames", BuilderName: builderName, Args: []interface{}{names}})
}

func (s *MemorySink) SetCacheSize(builderName string, size int) {
	s.record(Call{Method: "SetCacheSize", BuilderName: builderName, Args: []interface{}{size}})
}

func (s *MemorySink) NewBuild(builderName string, buildNumber int64) {
	s.record(Call{Method: "NewBuild", BuilderName: builderName, Args: []interface{}{buildNumber}})
}

func (s *MemorySink) BuildStarted(builderName string, buildNumber int64, workerName string) {
	s.record(Call{Method: "BuildStarted", BuilderName: builderName, Args: []interface{}{buildNumber, workerName}})
}

func (s *MemorySink) SetBigState(builderName, state string) {
	s.record(Call{Method: "SetBigState", BuilderName: builderName, Args: []interface{}{state}})
}

func (s *MemorySink) AddPointEvent(builderName string, tags []string) {
	s.record(Call{Method: "AddPointEvent", BuilderName: builderName, Args: []interface{}{tags}})
}

// Last returns the most recent call made with the given method name, if
// any.
func (s *MemorySink) Last(method string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.Calls) - 1; i >= 0; i-- {
		if s.Calls[i].Method == method {
			return s.Calls[i], true
		}
	}
	return Call{}, false
}
