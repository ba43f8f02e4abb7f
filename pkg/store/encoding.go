package store

import (
	"bytes"
	"encoding/gob"
)

// encodeAccount serializes an Account to bytes using gob.
func encodeAccount(acct *Account) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(acct); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeAccount deserializes bytes back into an Account.
func decodeAccount(data []byte) (*Account, error) {
	var acct Account
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// encodeCharacter serializes a Character to bytes using gob.
func encodeCharacter(ch *Character) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeCharacter deserializes bytes back into a Character.
func decodeCharacter(data []byte) (*Character, error) {
	var ch Character
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ch); err != nil {
		return nil, err
	}
	return &ch, nil
}
