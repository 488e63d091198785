package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

type IdKind int

const (
	// KindOperator is countryCode*partyId
	KindOperator IdKind = iota
	// KindStation is locationId-evseId
	KindStation
	// KindSiteArea is countryCode*partyId-locationId
	KindSiteArea
)

const (
	operatorSeparator = "*"
	locationSeparator = "-"
)

var ErrMalformedId = errors.New("malformed identifier")

func (k IdKind) String() string {
	switch k {
	case KindOperator:
		return "operator"
	case KindStation:
		return "station"
	case KindSiteArea:
		return "site area"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// BuildCompositeId concatenates the parts of an identifier kind; the formats are shared with partners.
// Parts are validated so that every identifier parses back to the parts it was built from.
func BuildCompositeId(kind IdKind, parts ...string) (string, error) {
	switch kind {
	case KindOperator:
		if len(parts) != 2 {
			break
		}
		if err := validateParty(parts[0], parts[1]); err != nil {
			return "", err
		}
		return parts[0] + operatorSeparator + parts[1], nil
	case KindStation:
		if len(parts) != 2 {
			break
		}
		if err := validateLocation(parts[0]); err != nil {
			return "", err
		}
		if err := validateText("evse id", parts[1]); err != nil {
			return "", err
		}
		return parts[0] + locationSeparator + parts[1], nil
	case KindSiteArea:
		if len(parts) != 3 {
			break
		}
		if err := validateParty(parts[0], parts[1]); err != nil {
			return "", err
		}
		if err := validateText("location id", parts[2]); err != nil {
			return "", err
		}
		return parts[0] + operatorSeparator + parts[1] + locationSeparator + parts[2], nil
	default:
		return "", fmt.Errorf("%w: unknown kind %s", ErrMalformedId, kind)
	}
	return "", fmt.Errorf("%w: %s takes a different number of parts than %d", ErrMalformedId, kind, len(parts))
}

func BuildOperatorName(countryCode, partyId string) (string, error) {
	return BuildCompositeId(KindOperator, countryCode, partyId)
}

func BuildStationId(locationId, evseId string) (string, error) {
	return BuildCompositeId(KindStation, locationId, evseId)
}

func BuildSiteAreaName(countryCode, partyId, locationId string) (string, error) {
	return BuildCompositeId(KindSiteArea, countryCode, partyId, locationId)
}

func ParseOperatorName(name string) (countryCode, partyId string, err error) {
	countryCode, partyId, found := strings.Cut(name, operatorSeparator)
	if !found {
		return "", "", fmt.Errorf("%w: operator name %q", ErrMalformedId, name)
	}
	if err = validateParty(countryCode, partyId); err != nil {
		return "", "", err
	}
	return countryCode, partyId, nil
}

func ParseStationId(id string) (locationId, evseId string, err error) {
	locationId, evseId, found := strings.Cut(id, locationSeparator)
	if !found {
		return "", "", fmt.Errorf("%w: station id %q", ErrMalformedId, id)
	}
	if err = validateLocation(locationId); err != nil {
		return "", "", err
	}
	if err = validateText("evse id", evseId); err != nil {
		return "", "", err
	}
	return locationId, evseId, nil
}

func ParseSiteAreaName(name string) (countryCode, partyId, locationId string, err error) {
	operator, locationId, found := strings.Cut(name, locationSeparator)
	if !found {
		return "", "", "", fmt.Errorf("%w: site area name %q", ErrMalformedId, name)
	}
	if countryCode, partyId, err = ParseOperatorName(operator); err != nil {
		return "", "", "", err
	}
	if err = validateText("location id", locationId); err != nil {
		return "", "", "", err
	}
	return countryCode, partyId, locationId, nil
}

// validateParty accepts ISO 3166 alpha-2 country codes and three character party ids
func validateParty(countryCode, partyId string) error {
	if len(countryCode) != 2 || !isUpperAlnum(countryCode, false) {
		return fmt.Errorf("%w: country code %q", ErrMalformedId, countryCode)
	}
	if len(partyId) != 3 || !isUpperAlnum(partyId, true) {
		return fmt.Errorf("%w: party id %q", ErrMalformedId, partyId)
	}
	return nil
}

func validateLocation(locationId string) error {
	if strings.Contains(locationId, locationSeparator) {
		return fmt.Errorf("%w: location id %q contains %q", ErrMalformedId, locationId, locationSeparator)
	}
	return validateText("location id", locationId)
}

func validateText(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty %s", ErrMalformedId, name)
	}
	for _, r := range value {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: %s %q", ErrMalformedId, name, value)
		}
	}
	return nil
}

func isUpperAlnum(s string, digits bool) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case digits && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
