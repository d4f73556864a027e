// Plugin flavour of the secondary package.
//
//go:generate go run github.com/ZenLiuCN/secondary/compiler plugin -o ../secondary.so
package main

import "github.com/ZenLiuCN/secondary"

type libraryProvider struct{}

func (libraryProvider) ShowToast(host secondary.Host, text string) error {
	host.Notify(text)
	return nil
}

type secondaryActivity struct {
	host secondary.Host
}

func (a *secondaryActivity) SetHost(host secondary.Host) {
	a.host = host
}

func (a *secondaryActivity) OnCreate(state map[string]any) {
	a.host.Notify("this another activity")
}

// LibraryProvider is default constructed from its type.
var LibraryProvider libraryProvider

func NewSecondaryActivity() *secondaryActivity {
	return new(secondaryActivity)
}

func NewGreeter(name string) string {
	return "hello " + name
}

func main() {}
