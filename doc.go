/*
Package secondary stages secondary code packages bundled with a host and loads
named implementations out of them at runtime.

# Flow

 1. Stage: copy the bundled package from an [fs.FS] (usually an embed.FS) into
    private storage with [Stager.EnsureStaged]. Staging happens once, a staged
    destination is never copied again.
 2. Resolve: [Resolve] (or a cached [github.com/ZenLiuCN/secondary/pool.Pool])
    opens the staged package, looks the symbol up and default constructs an
    instance wrapped in a [Handle].
 3. Invoke: either typed through [As] with a capability interface such as
    [Library], or by name through [Handle.Invoke].

# Formats

The package format is picked from the file extension:

  - .yaml, .yml: a catalog mapping exported names onto the host [Symbols] table.
  - .lua: a script package run by [gopher-lua].
  - .so: a Go plugin built with -buildmode=plugin.
  - .o, .a, .linkable: relocatable objects linked by [goloader]. Only available
    when built with the goloader tag, the go sdk must be prepared first
    (see the compiler tool).

# Symbols

A symbol name is a dotted path, its last segment must be exported (start with an
upper case letter) or the lookup fails with [ErrAccessDenied]. Go symbols are
default constructed: a func without parameters is called, a pointer to any
other type yields a fresh zero value of the element type.

# License

Source codes are under Apache License Version 2.0.

[goloader]: https://github.com/pkujhd/goloader
[gopher-lua]: https://github.com/yuin/gopher-lua
*/
package secondary
