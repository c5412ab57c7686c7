package process

// Session is the single-threaded, cooperative evaluator bound to one
// Execute/Resume/Fail/Cancel call (spec.md §4.5). It does not outlive that
// call, but the per-node Status it records lives on the composed root,
// which the owning Process retains across suspension.
type Session struct {
	manager          *Manager
	process          *Process
	root             Node
	mode             ContextMode
	matchedInstances []string
	log              Logger
}

func newSession(m *Manager, p *Process, root Node, mode ContextMode, matched []string, log Logger) *Session {
	if log == nil {
		log = NoopLogger{}
	}
	return &Session{
		manager:          m,
		process:          p,
		root:             root,
		mode:             mode,
		matchedInstances: matched,
		log:              log,
	}
}

// Process returns the Process this Session is evaluating.
func (s *Session) Process() *Process { return s.process }

// Manager returns the registry this Session's root was composed from.
func (s *Session) Manager() *Manager { return s.manager }

// Root returns the composed root being walked.
func (s *Session) Root() Node { return s.root }

// Mode returns the ContextMode used to compose Root.
func (s *Session) Mode() ContextMode { return s.mode }

// MatchedInstances lists the registry instance ids that contributed to Root.
func (s *Session) MatchedInstances() []string { return s.matchedInstances }

func (s *Session) logger() Logger { return s.log }
