// Package config handles HCL configuration for the rule checker.
//
// # Configuration Blocks
//
//   - rule_check: reconciliation schedule, set backend and exemptions
//   - rule_check.dns: upstreams used to resolve domain policies
//   - logging: log level and format
//
// # Example
//
//	rule_check {
//	  interval      = 10      # minutes
//	  startup_delay = "20m"
//	  backend       = "nftables"
//	  table         = "filter"
//	  self_domains  = ["grimm.is"]
//	  resolver      = "dns"   # or "mapping"
//
//	  reenforce_command = ["/usr/sbin/policyctl", "reenforce"]
//
//	  dns {
//	    servers = ["127.0.0.1:53"]
//	    timeout = "2s"
//	  }
//	}
//
// Missing attributes take the values of [Default]. Durations use Go syntax
// ("90s", "20m").
package config
