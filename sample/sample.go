// Package sample holds the implementations the bundled catalog package points
// at. Linking it into a host registers them into the global symbol table.
package sample

import (
	"github.com/ZenLiuCN/secondary"
)

const (
	// LibrarySymbol is the host symbol of LibraryProvider.
	LibrarySymbol = "sample.LibraryProvider"
	// ActivitySymbol is the host symbol of SecondaryActivity.
	ActivitySymbol = "sample.SecondaryActivity"
)

func init() {
	secondary.RegisterGlobalType[LibraryProvider](LibrarySymbol)
	secondary.RegisterGlobal(ActivitySymbol, NewSecondaryActivity)
}

// LibraryProvider implements [secondary.Library].
type LibraryProvider struct{}

func (LibraryProvider) ShowToast(host secondary.Host, text string) error {
	host.Notify(text)
	return nil
}

// SecondaryActivity is driven by reflective invocation only: the host sets
// itself with SetHost then calls OnCreate.
type SecondaryActivity struct {
	host secondary.Host
}

func NewSecondaryActivity() *SecondaryActivity {
	return new(SecondaryActivity)
}

func (a *SecondaryActivity) SetHost(host secondary.Host) {
	a.host = host
}

// Host returns the back-reference given by SetHost.
func (a *SecondaryActivity) Host() secondary.Host {
	return a.host
}

func (a *SecondaryActivity) OnCreate(state map[string]any) {
	a.host.Notify("this another activity")
}
