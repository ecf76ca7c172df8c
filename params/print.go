package params

import (
	"fmt"
	"io"
)

// Print writes one "name: value" line per parameter in declaration order.
// Null values print as NULL. The sentinel set prints NotAvailable.
func Print(w io.Writer, s *Set) error {
	if !s.Available() {
		_, err := fmt.Fprintln(w, NotAvailable)
		return err
	}
	for _, name := range s.names {
		v := s.values[name]
		var err error
		if v.IsNull() {
			_, err = fmt.Fprintf(w, "%s: NULL\n", name)
		} else {
			_, err = fmt.Fprintf(w, "%s: %v\n", name, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
