// Package mailer renders account emails and delivers them.
//
// [Composer] turns a [Kind] plus recipient data into a subject and a plain
// text body. Senders are deliberately dumb: [SMTPSender] speaks SMTP,
// [LogSender] writes the message to a logrus logger for development.
package mailer
