// Package receipt persists install receipts.
//
// The FileRepository keeps one YAML document per formula under the state
// directory of the install prefix. The installer reads it to skip work that is
// already done and writes it after a successful self-test.
package receipt
