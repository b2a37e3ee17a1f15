package vc

// fieldDefault fills one optional field when it is absent.
type fieldDefault struct {
	field string
	apply func(c *Credential)
}

// credentialDefaults is applied once per stage transition and on ingestion.
// Absent strings are empty, never null, and absent lists are empty lists.
var credentialDefaults = []fieldDefault{
	{"@context", func(c *Credential) {
		if len(c.Context) == 0 {
			c.Context = []string{DefaultContext}
		}
	}},
	{"type", func(c *Credential) {
		if len(c.Type) == 0 {
			c.Type = []string{DefaultType}
		}
	}},
	{"credentialSubject.componentCredentials", func(c *Credential) {
		if c.CredentialSubject.ComponentCredentials == nil {
			c.CredentialSubject.ComponentCredentials = []string{}
		}
	}},
	{"credentialSubject.price", func(c *Credential) {
		if c.CredentialSubject.Price.raw == "" {
			c.CredentialSubject.Price = EmptyPrice()
		}
	}},
}

// Normalize applies the optional-field default table in place.
// schemaVersion is left untouched so that legacy credentials keep verifying
// under the type set they were signed with.
func Normalize(c *Credential) {
	for _, d := range credentialDefaults {
		d.apply(c)
	}
}
