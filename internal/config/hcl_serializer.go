package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// GenerateHCL renders the config. Unset blocks are omitted.
func GenerateHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	if rc := cfg.RuleCheck; rc != nil {
		b := body.AppendNewBlock("rule_check", nil).Body()
		if rc.Enabled != nil {
			b.SetAttributeValue("enabled", cty.BoolVal(*rc.Enabled))
		}
		if rc.Interval != 0 {
			b.SetAttributeValue("interval", cty.NumberIntVal(int64(rc.Interval)))
		}
		setString(b, "startup_delay", rc.StartupDelay)
		setString(b, "backend", rc.Backend)
		setString(b, "table", rc.Table)
		if len(rc.SelfDomains) > 0 {
			b.SetAttributeValue("self_domains", toCtyStringList(rc.SelfDomains))
		}
		if len(rc.SelfAddresses) > 0 {
			b.SetAttributeValue("self_addresses", toCtyStringList(rc.SelfAddresses))
		}
		setString(b, "resolver", rc.Resolver)
		if len(rc.ReenforceCommand) > 0 {
			b.SetAttributeValue("reenforce_command", toCtyStringList(rc.ReenforceCommand))
		}

		if d := rc.DNS; d != nil {
			b.AppendNewline()
			db := b.AppendNewBlock("dns", nil).Body()
			if len(d.Servers) > 0 {
				db.SetAttributeValue("servers", toCtyStringList(d.Servers))
			}
			setString(db, "timeout", d.Timeout)
			if d.BlockingIPs != nil {
				db.SetAttributeValue("blocking_ips", toCtyStringList(d.BlockingIPs))
			}
		}
	}

	if l := cfg.Logging; l != nil {
		if cfg.RuleCheck != nil {
			body.AppendNewline()
		}
		b := body.AppendNewBlock("logging", nil).Body()
		setString(b, "level", l.Level)
		if l.JSON {
			b.SetAttributeValue("json", cty.True)
		}
	}

	return hclwrite.Format(f.Bytes())
}

func setString(b *hclwrite.Body, name, v string) {
	if v != "" {
		b.SetAttributeValue(name, cty.StringVal(v))
	}
}

// toCtyStringList converts a []string to cty.Value list
func toCtyStringList(strs []string) cty.Value {
	if len(strs) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(strs))
	for i, s := range strs {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
