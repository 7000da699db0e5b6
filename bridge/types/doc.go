// Package types resolves textual type tokens into Descriptor trees.
//
// Grammar, outermost first:
//
//	token    := inner [ "?" ]
//	inner    := "List<" token ">" | primitive | name
//
// A trailing "?" marks the current level optional. Primitive names are
// case-insensitive and accept common aliases ("Int", "Integer" and "Int32" all
// name the 32-bit signed kind). Any other name is a custom type that a
// Registry binds to a struct or enum definition once every declaration of the
// configuration has been seen.
package types
