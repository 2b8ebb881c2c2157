// Package hermes dispatches transactional mail and contact form submissions
// through pluggable providers.
//
// Configs are JSON files loaded from watched directories and reloaded on
// change. Each config carries provider credentials; configs with the same
// credentials share one mailer and, with queued delivery, one rate budget.
// Contact forms are protected by a daily quota and a captcha, either a
// reCAPTCHA score or a Kerberus proof-of-work challenge.
//
// # Basic Usage
//
//	d, err := hermes.New(hermes.DefaultConfig(),
//		hermes.WithDirectories("configs/mail", "configs/contact", "templates"),
//		hermes.WithQueue(10, 4),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer d.Close(context.Background())
//
//	result, err := d.SendMail(ctx, &hermes.MailInput{
//		ID:         "welcome",
//		Email:      "user@example.com",
//		Attributes: map[string]interface{}{"name": "Amy"},
//	})
//
// Provider failures never surface as errors: they are classified per
// recipient into the SendOperationResult as bounced, temporary or failed.
// Errors are reserved for requests rejected before sending, such as an
// unknown config, an exhausted quota or a failed captcha.
//
// # Supported Providers
//
//   - Resend
//   - SendGrid
//   - Mailgun
//   - AWS SES
//   - Generic SMTP
package hermes
