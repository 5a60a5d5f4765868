package tvar

import "strings"

// phaseVocab pairs a phase name with the keywords that identify it. Order
// matters: the first vocabulary with a hit wins, matching the documented
// "first match wins" rule for the five engagement phases.
var phaseVocab = []struct {
	phase    string
	keywords []string
}{
	{
		phase: "reconnaissance",
		keywords: []string{
			"recon", "footprint", "osint", "whois", "dns lookup",
			"subdomain", "discover host", "discover hosts", "target scope",
			"nmap -sn", "ping sweep",
		},
	},
	{
		phase: "enumeration",
		keywords: []string{
			"enumerat", "banner grab", "service version", "directory listing",
			"smb enum", "list users", "share enum", "gobuster", "nikto",
		},
	},
	{
		phase: "exploitation",
		keywords: []string{
			"exploit", "payload", "shellcode", "reverse shell", "inject",
			"overflow", "rce", "csrf", "sqli", "metasploit", "msfconsole",
		},
	},
	{
		phase: "post_exploitation",
		keywords: []string{
			"privilege escalation", "privesc", "persistence", "pivot",
			"lateral movement", "dump hash", "mimikatz", "post-exploit",
			"post exploitation", "exfiltrat",
		},
	},
	{
		phase: "reporting",
		keywords: []string{
			"report", "write-up", "writeup", "document finding",
			"executive summary", "remediation",
		},
	},
}

// ClassifyPhase returns the first phase vocabulary matched by text, or ""
// if none of the five vocabularies hit.
func ClassifyPhase(text string) string {
	lower := strings.ToLower(text)
	for _, v := range phaseVocab {
		for _, kw := range v.keywords {
			if strings.Contains(lower, kw) {
				return v.phase
			}
		}
	}
	return ""
}
