package bot

import (
	"fmt"
	"strconv"
	"strings"

	"newsrelay/internal/model"
)

// defaultItemsLimit caps the /items listing.
const defaultItemsLimit = 20

// ItemsArgs holds the parsed arguments of /items.
type ItemsArgs struct {
	Statuses []model.Status
	Tenant   string
}

// ParseItemsArgs parses arguments for /items.
// Format: [STATUS...] [-t slug]. FAILED stands for every FAILED_* status.
func ParseItemsArgs(args string) (ItemsArgs, error) {
	var out ItemsArgs
	parts := strings.Fields(args)
	for i := 0; i < len(parts); i++ {
		p := parts[i]
		if p == "-t" {
			if i+1 >= len(parts) {
				return ItemsArgs{}, fmt.Errorf("usage: /items [STATUS...] [-t slug]")
			}
			out.Tenant = parts[i+1]
			i++
			continue
		}

		st := model.Status(strings.ToUpper(p))
		switch {
		case st == "FAILED":
			out.Statuses = append(out.Statuses, model.FailedStatuses...)
		case st.Valid():
			out.Statuses = append(out.Statuses, st)
		default:
			return ItemsArgs{}, fmt.Errorf("unknown status %q", p)
		}
	}
	return out, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("item ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item ID %q", s)
	}
	return id, nil
}
