package l2b

import (
	"fmt"
	"strconv"
	"strings"
)

// ArrayStringFlags collects repeated string flags, e.g. --policy a --policy b.
type ArrayStringFlags []string

func (i *ArrayStringFlags) String() string {
	return fmt.Sprintf("%v", *i)
}

func (i *ArrayStringFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

// ArrayIntFlags collects repeated integer flags. A single value may also
// hold a comma separated list ("7,10,30").
type ArrayIntFlags []int

func (i *ArrayIntFlags) String() string {
	return fmt.Sprintf("%v", *i)
}

func (i *ArrayIntFlags) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		val, err := strconv.Atoi(part)
		if err != nil {
			return err
		}
		*i = append(*i, val)
	}
	return nil
}
