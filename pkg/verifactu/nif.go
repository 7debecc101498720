package verifactu

import (
	"fmt"
	"strings"
)

// letras de control del DNI/NIE: índice = número % 23.
const dniLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

// letras de control del CIF: índice = dígito de control.
const cifLetters = "JABCDEFGHI"

// NIFKind clasifica el identificador fiscal.
type NIFKind string

const (
	NIFKindDNI     NIFKind = "DNI" // persona física española: 8 dígitos + letra
	NIFKindNIE     NIFKind = "NIE" // extranjero: X/Y/Z + 7 dígitos + letra
	NIFKindSpecial NIFKind = "KLM" // K, L, M + 7 dígitos + letra
	NIFKindCIF     NIFKind = "CIF" // persona jurídica: letra + 7 dígitos + control
)

// NormalizeNIF elimina espacios, guiones y puntos y pasa a mayúsculas.
func NormalizeNIF(nif string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(nif) {
		if r == ' ' || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateNIF valida formato y carácter de control de un NIF español (DNI, NIE, K/L/M o CIF).
// Devuelve el tipo detectado. nif debe venir ya normalizado (ver NormalizeNIF).
func ValidateNIF(nif string) (NIFKind, error) {
	if len(nif) != 9 {
		return "", fmt.Errorf("verifactu: el NIF debe tener 9 caracteres, se recibieron %d", len(nif))
	}
	first := nif[0]
	switch {
	case isDigit(first):
		return NIFKindDNI, checkDNILetter(nif[:8], nif[8])
	case first == 'X' || first == 'Y' || first == 'Z':
		prefix := map[byte]byte{'X': '0', 'Y': '1', 'Z': '2'}[first]
		return NIFKindNIE, checkDNILetter(string(prefix)+nif[1:8], nif[8])
	case first == 'K' || first == 'L' || first == 'M':
		return NIFKindSpecial, checkDNILetter(nif[1:8], nif[8])
	case strings.IndexByte("ABCDEFGHJNPQRSUVW", first) >= 0:
		return NIFKindCIF, checkCIFControl(nif)
	default:
		return "", fmt.Errorf("verifactu: letra inicial del NIF inválida %q", first)
	}
}

// IsValidNIF atajo booleano de ValidateNIF (normaliza antes de validar).
func IsValidNIF(nif string) bool {
	_, err := ValidateNIF(NormalizeNIF(nif))
	return err == nil
}

func checkDNILetter(digits string, letter byte) error {
	n := 0
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return fmt.Errorf("verifactu: el NIF contiene caracteres no numéricos en la parte numérica")
		}
		n = n*10 + int(digits[i]-'0')
	}
	expected := dniLetters[n%23]
	if letter != expected {
		return fmt.Errorf("verifactu: letra de control del NIF inválida: esperada %c, recibida %c", expected, letter)
	}
	return nil
}

// checkCIFControl aplica el algoritmo del CIF: pares suman, impares se doblan y suman sus cifras.
func checkCIFControl(cif string) error {
	body := cif[1:8]
	sum := 0
	for i := 0; i < len(body); i++ {
		if !isDigit(body[i]) {
			return fmt.Errorf("verifactu: el CIF contiene caracteres no numéricos")
		}
		d := int(body[i] - '0')
		if i%2 == 0 { // posiciones impares (1ª, 3ª, 5ª, 7ª)
			d *= 2
			d = d/10 + d%10
		}
		sum += d
	}
	digit := (10 - sum%10) % 10
	control := cif[8]
	letterOnly := strings.IndexByte("KPQRSNW", cif[0]) >= 0 || body[:2] == "00"
	digitOnly := strings.IndexByte("ABEH", cif[0]) >= 0

	switch {
	case letterOnly:
		if control != cifLetters[digit] {
			return fmt.Errorf("verifactu: carácter de control del CIF inválido: esperado %c", cifLetters[digit])
		}
	case digitOnly:
		if control != byte('0'+digit) {
			return fmt.Errorf("verifactu: dígito de control del CIF inválido: esperado %d", digit)
		}
	default:
		if control != byte('0'+digit) && control != cifLetters[digit] {
			return fmt.Errorf("verifactu: carácter de control del CIF inválido")
		}
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
