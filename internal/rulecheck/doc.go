// Package rulecheck verifies that simple allow/block policies are reflected
// in the kernel membership sets and asks for re-enforcement when they are not.
//
// A [Reconciler] runs one pass per interval once the policy manager reports
// that every policy has been initialized. Each pass reads the global disable
// flag, loads the active policies, keeps the ones a [Filter] considers
// checkable, derives the set each one should live in and compares targets
// against a pass-scoped [firewall.SetCache]. Policies found missing are sent
// to an [Enforcer] as a [Command].
//
// Scoped policies (device, network, tag, VPN profile or rule group) and
// port-restricted policies live in dedicated chains and are never checked.
package rulecheck
