// Package dispatch delivers two-factor codes out of band.
//
// SMTPSender mails the code; LogSender writes it to the process log and is
// meant for development and the in-memory server mode.
package dispatch
