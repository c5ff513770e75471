package domain

import (
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// SatisfiesConstraint reports whether version meets a dependency constraint.
// Supported forms: "", "*", "x.y.z", "^x.y.z", "~x.y.z", ">=x.y.z".
func SatisfiesConstraint(version, constraint string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" {
		return true, nil
	}
	have, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return false, fmt.Errorf("parse version %q: %w", version, err)
	}
	op := ""
	for _, prefix := range []string{">=", "^", "~", "="} {
		if strings.HasPrefix(constraint, prefix) {
			op = prefix
			constraint = strings.TrimSpace(strings.TrimPrefix(constraint, prefix))
			break
		}
	}
	want, err := semver.NewVersion(strings.TrimPrefix(constraint, "v"))
	if err != nil {
		return false, fmt.Errorf("parse constraint %q: %w", constraint, err)
	}
	switch op {
	case ">=":
		return !have.LessThan(*want), nil
	case "^":
		if have.LessThan(*want) || have.Major != want.Major {
			return false, nil
		}
		if want.Major == 0 && have.Minor != want.Minor {
			return false, nil
		}
		return true, nil
	case "~":
		return !have.LessThan(*want) && have.Major == want.Major && have.Minor == want.Minor, nil
	default:
		return have.Equal(*want), nil
	}
}
