// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"strconv"
	"strings"
)

// Namespace identifies a computation within a tree of nested computations.
// The root namespace is empty; every child gets a local name made of a tag
// and a counter unique within its parent, such as "R0".
type Namespace struct {
	parent *Namespace
	local  string
	next   int
}

// Root reports whether ns is a root namespace.
func (ns *Namespace) Root() bool { return ns.parent == nil }

// Parent returns the enclosing namespace, or nil for a root.
func (ns *Namespace) Parent() *Namespace { return ns.parent }

// Local returns the name of ns within its parent.
func (ns *Namespace) Local() string { return ns.local }

// Child allocates a new child namespace. tag should start with a letter.
func (ns *Namespace) Child(tag string) *Namespace {
	c := &Namespace{parent: ns, local: tag + strconv.Itoa(ns.next)}
	ns.next++
	return c
}

// Path returns the local names from the root down to ns.
func (ns *Namespace) Path() []string {
	var path []string
	for n := ns; n != nil && n.parent != nil; n = n.parent {
		path = append(path, n.local)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// String returns the namespace as a name prefix: "" for the root, "R0_"
// for a child, "R0_S1_" for a grandchild.
func (ns *Namespace) String() string {
	path := ns.Path()
	if len(path) == 0 {
		return ""
	}
	return strings.Join(path, "_") + "_"
}

// Qualify prefixes name with the namespace.
func (ns *Namespace) Qualify(name string) string {
	return ns.String() + name
}
