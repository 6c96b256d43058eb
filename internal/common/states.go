package common

import (
	"encoding/json"
	"fmt"
)

func getStateMapping() []string {
	return []string{"PLANNING", "APPLYING", "FINALIZING", "DONE", "FAILED"}
}

// CommitState is the state of a commit of staged disk operations.
type CommitState int

const (
	CSPlanning CommitState = iota
	CSApplying
	CSFinalizing
	CSDone
	CSFailed
)

// CustomJsonConversionError is thrown when parsing strings into enumerations
type CustomJsonConversionError struct {
	reason string
}

// Error returns the error as a string
func (err *CustomJsonConversionError) Error() string {
	return err.reason
}

// ToString converts CommitState into a human readable string
func (cs CommitState) ToString() string {
	mapping := getStateMapping()
	if int(cs) < 0 || int(cs) >= len(mapping) {
		panic(fmt.Sprintf("unknown commit state with enum value %d", cs))
	}
	return mapping[int(cs)]
}

func (cs CommitState) String() string {
	return cs.ToString()
}

func stateFromString(input string) (int, error) {
	for n, str := range getStateMapping() {
		if str == input {
			return n, nil
		}
	}
	return 0, &CustomJsonConversionError{"invalid commit state: " + input}
}

// UnmarshalJSON converts a JSON string into a CommitState
func (cs *CommitState) UnmarshalJSON(data []byte) error {
	var stringInput string
	err := json.Unmarshal(data, &stringInput)
	if err != nil {
		return err
	}
	val, err := stateFromString(stringInput)
	if err != nil {
		return err
	}
	*cs = CommitState(val)
	return nil
}

func (cs CommitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(cs.ToString())
}

func (cs CommitState) MarshalText() ([]byte, error) {
	return []byte(cs.ToString()), nil
}

func (cs *CommitState) UnmarshalText(data []byte) error {
	val, err := stateFromString(string(data))
	if err != nil {
		return err
	}
	*cs = CommitState(val)
	return nil
}
