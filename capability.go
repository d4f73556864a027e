package secondary

type (
	// Host is the back-reference a loaded component receives. It carries no
	// ownership, a component must not keep it beyond the Handle's lifetime.
	Host interface {
		Notify(text string) //show a transient notification
	}
	// Library is the capability used by typed invocation.
	Library interface {
		ShowToast(host Host, text string) error
	}
	// Attacher is implemented by components which want the Host at resolution time.
	Attacher interface {
		Attach(host Host)
	}
	// Invoker is implemented by instances without Go methods (script objects),
	// [Handle.Invoke] dispatches to it instead of reflection.
	Invoker interface {
		Invoke(method string, args ...any) ([]any, error)
	}
)
