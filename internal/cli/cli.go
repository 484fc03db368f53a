package cli

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/buger/goterm"
	"github.com/fatih/color"
)

var (
	// Colors for different types of output.
	userColor      = color.New(color.FgWhite, color.Bold)
	assistantColor = color.New(color.FgCyan)
	dateColor      = color.New(color.FgMagenta, color.Bold)
	titleColor     = color.New(color.FgMagenta, color.Bold)
	separatorColor = color.New(color.FgHiBlack)
	infoColor      = color.New(color.FgGreen)
	warningColor   = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)

	width = goterm.Width()
)

// Width of the terminal, with a floor for redirected output.
func Width() int {
	if width <= 0 {
		return 80
	}
	return width
}

// Separator printed to cli.
func Separator() {
	separatorColor.Println(strings.Repeat("-", Width()))
}

// Title printed to cli.
func Title(text string, args ...any) {
	title := "      " + fmt.Sprintf(text, args...) + "      "
	leftWidth := max((Width()-len(title))/2, 0)
	separator1 := strings.Repeat("-", leftWidth)
	separator2 := strings.Repeat("-", max(Width()-len(title)-len(separator1), 0))
	titleColor.Println(separator1 + title + separator2)
}

// DateLabel printed to cli.
func DateLabel(label string) {
	dateColor.Println(label)
}

// Message printed to cli, attributed to its sender.
func Message(sender string, user bool, text string) {
	c := assistantColor
	if user {
		c = userColor
	}
	c.Printf("%s: ", sender)
	fmt.Println(text)
}

// Info printed to cli.
func Info(text string, args ...any) {
	infoColor.Printf(text+"\n", args...)
}

// Warning printed to cli.
func Warning(text string, args ...any) {
	warningColor.Printf(text+"\n", args...)
}

// Error printed to cli.
func Error(text string, args ...any) {
	errorColor.Printf(text+"\n", args...)
}

// Credentials asked at login.
type Credentials struct {
	Email    string
	Password string
}

// PromptCredentials asks the user for an email and a password.
func PromptCredentials(defaultEmail string) (*Credentials, error) {
	questions := []*survey.Question{
		{
			Name:     "email",
			Prompt:   &survey.Input{Message: "Email:", Default: defaultEmail},
			Validate: survey.Required,
		},
		{
			Name:     "password",
			Prompt:   &survey.Password{Message: "Password:"},
			Validate: survey.Required,
		},
	}
	answers := struct {
		Email    string `survey:"email"`
		Password string `survey:"password"`
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return nil, err
	}
	return &Credentials{Email: strings.TrimSpace(answers.Email), Password: answers.Password}, nil
}

// QueryUser a yes/no question.
func QueryUser(question string) bool {
	surveyQuestion := &survey.Confirm{
		Message: question,
	}
	confirm := false
	survey.AskOne(surveyQuestion, &confirm)
	return confirm
}
