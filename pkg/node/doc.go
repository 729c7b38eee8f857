// Package node implements the top-level node daemon (C9): it owns the
// store connection, constructs every other subsystem, installs the
// watches that drive reconciliation (base.node, base.domain,
// base.network, base.config.primary_node), and sequences startup and
// shutdown per spec §4.
package node
