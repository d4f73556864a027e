// Object flavour of the secondary package, linked by goloader.
//
//go:generate go run github.com/ZenLiuCN/secondary/compiler object -k library .
package library

import "github.com/ZenLiuCN/secondary"

type provider struct{}

func (provider) ShowToast(host secondary.Host, text string) error {
	host.Notify(text)
	return nil
}

func NewLibraryProvider() any {
	return provider{}
}
