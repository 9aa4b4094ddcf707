package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// A Name is a hierarchical name that includes a series of tokens separated
// by dots, such as "Die[0].HNF[3]".
type Name struct {
	Tokens []NameToken
}

// NameToken is a token of a name.
type NameToken struct {
	ElemName string
	Index    []int
}

// ParseName parses a name string.
func ParseName(sname string) (Name, error) {
	tokens := strings.Split(sname, ".")
	name := Name{Tokens: make([]NameToken, len(tokens))}

	for i, token := range tokens {
		t, err := parseNameToken(token)
		if err != nil {
			return Name{}, fmt.Errorf("name %q: %w", sname, err)
		}

		name.Tokens[i] = t
	}

	return name, nil
}

func parseNameToken(token string) (NameToken, error) {
	if err := bracketMustMatch(token); err != nil {
		return NameToken{}, err
	}

	ts := strings.Split(token, "[")
	elemName := ts[0]
	if elemName == "" {
		return NameToken{}, fmt.Errorf("name element must not be empty")
	}

	indices := make([]int, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		if !strings.HasSuffix(ts[i], "]") {
			return NameToken{}, fmt.Errorf("malformed index in %q", token)
		}

		index, err := strconv.Atoi(ts[i][0 : len(ts[i])-1])
		if err != nil {
			return NameToken{}, fmt.Errorf("name index must be integer")
		}

		indices[i-1] = index
	}

	return NameToken{ElemName: elemName, Index: indices}, nil
}

func bracketMustMatch(name string) error {
	openBracketCount := 0
	for _, c := range name {
		if c == '[' {
			openBracketCount++
		} else if c == ']' {
			openBracketCount--
			if openBracketCount < 0 {
				return fmt.Errorf("name bracket must match")
			}
		}
	}

	if openBracketCount != 0 {
		return fmt.Errorf("name bracket must match")
	}

	return nil
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}

// DieName returns the name of a die.
func DieName(die int) string {
	return BuildNameWithIndex("", "Die", die)
}

// String returns the node name, e.g. "Die[1].HNF[2]".
func (id NodeID) String() string {
	return BuildNameWithIndex(DieName(id.Die), id.Role.Short(), id.Index)
}

// ParseNodeID parses a node name produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	name, err := ParseName(s)
	if err != nil {
		return NodeID{}, err
	}

	if len(name.Tokens) != 2 ||
		name.Tokens[0].ElemName != "Die" || len(name.Tokens[0].Index) != 1 ||
		len(name.Tokens[1].Index) != 1 {
		return NodeID{}, fmt.Errorf("%q is not a node name", s)
	}

	role, err := ParseRole(name.Tokens[1].ElemName)
	if err != nil {
		return NodeID{}, err
	}

	return NodeID{
		Die:   name.Tokens[0].Index[0],
		Role:  role,
		Index: name.Tokens[1].Index[0],
	}, nil
}
