package message

import (
	"fmt"
	"slices"

	"github.com/AlecAivazis/survey/v2"
	"github.com/aripalo/go-delightful"
	"github.com/enescakir/emoji"
)

var console = delightful.New("sdaf-wizard")

func SetSilentMode(flag bool) {
	console.SetSilentMode(flag)
}

func SetVerboseMode(flag bool) {
	console.SetVerboseMode(flag)
}

func SetEmojiMode(flag bool) {
	console.SetEmojiMode(flag)
}

func SetColorMode(flag bool) {
	console.SetColorMode(flag)
}

// Select offers the options in sorted order. The caller's slice is left as is.
func Select(message string, options []string) (string, error) {
	var answer string
	prompt := survey.Select{
		Message: message,
		Options: slices.Sorted(slices.Values(options)),
	}

	err := survey.AskOne(&prompt, &answer)
	if err != nil {
		return "", fmt.Errorf("failed to ask question: %w", err)
	}

	return answer, nil
}

func BoolSelect(message string) (bool, error) {
	var answer bool
	prompt := &survey.Confirm{
		Message: message,
	}

	err := survey.AskOne(prompt, &answer)
	if err != nil {
		return false, fmt.Errorf("failed to ask question: %w", err)
	}

	return answer, nil
}

// Check rejects an answer. The error is shown under the prompt and the
// question is asked again.
type Check func(answer string) error

// Prompt asks for a non-empty value that passes every check.
func Prompt(message string, defaultValue string, checks ...Check) (string, error) {
	var answer string
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}

	err := survey.AskOne(prompt, &answer, survey.WithValidator(validator(checks)))
	if err != nil {
		return "", fmt.Errorf("failed to ask question: %w", err)
	}

	return answer, nil
}

func validator(checks []Check) survey.Validator {
	return func(ans interface{}) error {
		if err := survey.Required(ans); err != nil {
			return err
		}
		answer, ok := ans.(string)
		if !ok {
			return fmt.Errorf("cannot check an answer of type %T", ans)
		}
		for _, check := range checks {
			if err := check(answer); err != nil {
				return err
			}
		}
		return nil
	}
}

// Password asks for a value without echoing it. An empty answer is allowed.
func Password(message string) (string, error) {
	var answer string
	prompt := &survey.Password{
		Message: message,
	}

	if err := survey.AskOne(prompt, &answer); err != nil {
		return "", fmt.Errorf("failed to ask question: %w", err)
	}
	return answer, nil
}

func Debug(format string, args ...any) {
	console.Debugln(emoji.HammerAndWrench, fmt.Sprintf(format, args...))
}

func Warning(format string, args ...any) {
	console.Warningln(emoji.Warning, fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	console.Infoln(emoji.Information, fmt.Sprintf(format, args...))
}

func Skipped(format string, args ...any) {
	console.Infoln(emoji.NextTrackButton, fmt.Sprintf(format, args...))
}

func DocumentationReference(msg, url string) {
	console.HorizontalRuler()
	console.Titleln(emoji.Books, fmt.Sprintf("%s More information: %s", msg, url))
}

func Title(format string, args ...any) {
	console.Titleln(emoji.Rocket, fmt.Sprintf(format, args...))
}

func Success(format string, args ...any) {
	console.Infoln(emoji.CheckMarkButton, fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	console.Failureln(emoji.CrossMark, fmt.Sprintf(format, args...))
}
