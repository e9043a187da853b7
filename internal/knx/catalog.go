package knx

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/dpt"
	"github.com/snapdog/snapdog/internal/knxaddr"
)

// entry is one row of an ETS group-address export.
type entry struct {
	Address     knxaddr.Address
	Description string
	Dpt         *dpt.Id
}

// Catalog is the parsed ETS group-address CSV: an address-keyed lookup of
// optional description and DPT, used to decode inbound telegrams with a
// configured DPT instead of falling back to heuristic detection.
type Catalog struct {
	entries map[knxaddr.Address]entry
}

// DptFor returns the configured DPT for address, if any.
func (c *Catalog) DptFor(address knxaddr.Address) (dpt.Id, bool) {
	if c == nil {
		return dpt.Id{}, false
	}
	e, ok := c.entries[address]
	if !ok || e.Dpt == nil {
		return dpt.Id{}, false
	}
	return *e.Dpt, true
}

// Describe returns the configured description for address, if any.
func (c *Catalog) Describe(address knxaddr.Address) string {
	if c == nil {
		return ""
	}
	return c.entries[address].Description
}

// LoadCatalog parses an ETS-exported group-address CSV. The export is
// UTF-8, semicolon- or comma-separated, with a header row naming at least
// an "Address" column and optionally "Description" and "DPT". Duplicate
// addresses: last row wins, a warning is logged.
func LoadCatalog(r io.Reader, log zerolog.Logger) (*Catalog, error) {
	br := bufio.NewReader(r)
	delim, err := sniffDelimiter(br)
	if err != nil {
		return nil, fmt.Errorf("sniff csv delimiter: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse group address csv: %w", err)
	}
	if len(rows) == 0 {
		return &Catalog{entries: map[knxaddr.Address]entry{}}, nil
	}

	header := rows[0]
	col := columnIndex(header)
	addrCol, ok := col["address"]
	if !ok {
		return nil, fmt.Errorf("group address csv: missing required Address column")
	}
	descCol, hasDesc := col["description"]
	dptCol, hasDpt := col["dpt"]

	cat := &Catalog{entries: make(map[knxaddr.Address]entry, len(rows)-1)}
	for _, row := range rows[1:] {
		if addrCol >= len(row) {
			continue
		}
		raw := strings.TrimSpace(row[addrCol])
		if raw == "" {
			continue
		}
		addr, err := knxaddr.Parse(raw)
		if err != nil {
			log.Warn().Str("address", raw).Err(err).Msg("skipping unparsable group address")
			continue
		}

		e := entry{Address: addr}
		if hasDesc && descCol < len(row) {
			e.Description = strings.TrimSpace(row[descCol])
		}
		if hasDpt && dptCol < len(row) {
			if id, ok := parseDptColumn(strings.TrimSpace(row[dptCol])); ok {
				e.Dpt = &id
			}
		}

		if _, dup := cat.entries[addr]; dup {
			log.Warn().Str("address", addr.String()).Msg("duplicate group address in csv, last wins")
		}
		cat.entries[addr] = e
	}

	return cat, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// parseDptColumn accepts both "maj.min" and ETS's "DPST-maj-min" renderings.
func parseDptColumn(s string) (dpt.Id, bool) {
	if s == "" {
		return dpt.Id{}, false
	}
	if strings.HasPrefix(s, "DPST-") {
		parts := strings.Split(strings.TrimPrefix(s, "DPST-"), "-")
		if len(parts) != 2 {
			return dpt.Id{}, false
		}
		s = parts[0] + "." + parts[1]
	}
	var major, minor int
	if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
		return dpt.Id{}, false
	}
	return dpt.Id{Major: major, Minor: minor}, true
}

// sniffDelimiter peeks the header line to decide between ';' and ','.
func sniffDelimiter(br *bufio.Reader) (rune, error) {
	peeked, err := br.Peek(4096)
	if err != nil && err != io.EOF {
		return 0, err
	}
	line := peeked
	if i := strings.IndexByte(string(peeked), '\n'); i >= 0 {
		line = peeked[:i]
	}
	if strings.Count(string(line), ";") > strings.Count(string(line), ",") {
		return ';', nil
	}
	return ',', nil
}
