package cvc

import "fmt"

// Report is a human-readable summary of a parsed CVC, intended for
// operator-facing tooling (trust-center CLIs, audit logs) rather than
// machine consumption. It is a supplemented feature: the source exposes
// this information only through ad-hoc getters and a debugger, never as
// a single rendered summary.
type Report struct {
	CAR             string
	CHR             string
	Role            string
	RoleKnown       bool
	SignatureStatus string
	CriticalCount   int
	Findings        []string
}

// Report renders the CVC's current state into a Report value. It does not
// evaluate the signature; call EvaluateSignature first if a fresher
// status is wanted.
func (c *Cvc) Report() Report {
	role, roleKnown := c.chat.Role()
	r := Report{
		CAR:             c.car.String(),
		CHR:             c.chr.String(),
		RoleKnown:       roleKnown,
		SignatureStatus: c.SignatureStatus().String(),
		CriticalCount:   len(c.criticalFindings),
	}
	if roleKnown {
		r.Role = role.String()
	} else {
		r.Role = "unknown"
	}
	if c.findings != nil {
		for _, err := range c.findings.Errors {
			r.Findings = append(r.Findings, err.Error())
		}
	}
	return r
}

// String renders a one-line summary, e.g.
// "CHR=DETSI-1-0-02-23 CAR=DEGXX-8-7-02-22 role=sub-CA signature=VALID critical=0".
func (r Report) String() string {
	return fmt.Sprintf("CHR=%s CAR=%s role=%s signature=%s critical=%d",
		r.CHR, r.CAR, r.Role, r.SignatureStatus, r.CriticalCount)
}

// PublicKeyReport is a human-readable summary of the public key a CVC
// carries, for the "_ELC-PublicKey.txt" mirror file (spec.md §6).
type PublicKeyReport struct {
	CHR       string
	UsageOID  string
	Curve     string
	PointSize int // field-size octets of X and Y
}

// PublicKeyReport renders c's own public-key template into a PublicKeyReport.
func (c *Cvc) PublicKeyReport() PublicKeyReport {
	r := PublicKeyReport{
		CHR:      c.chr.String(),
		UsageOID: c.pkTemplate.UsageOID.String(),
	}
	if c.pkTemplate.Curve != nil {
		r.Curve = c.pkTemplate.Curve.Params().Name
		r.PointSize = len(c.pkTemplate.X)
	}
	return r
}

// String renders a one-line summary, e.g.
// "CHR=DETSI-1-0-02-23 usage=1.2.840.10045.4.3.2 curve=brainpoolP256r1".
func (r PublicKeyReport) String() string {
	return fmt.Sprintf("CHR=%s usage=%s curve=%s", r.CHR, r.UsageOID, r.Curve)
}
