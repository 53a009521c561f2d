// persondirctl is a small operator tool over the person directory: create
// and inspect accounts, change passwords, and toggle the active role.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/isometry/persondir/internal/config"
	"github.com/isometry/persondir/internal/directory"
	"github.com/isometry/persondir/internal/notify"
	"github.com/isometry/persondir/internal/person"
	"github.com/isometry/persondir/internal/repository"
	"github.com/isometry/persondir/internal/token"
)

const usage = `usage: persondirctl <command> [arguments]

commands:
  add         -first NAME -surname NAME -username NAME [-email ADDR] [-display NAME] [-password PW]
  show        -username NAME | -email ADDR
  exists      -username NAME | -email ADDR
  update      -username NAME [-first NAME] [-surname NAME] [-email ADDR] [-display NAME]
  passwd      -username NAME -password PW
  activate    -username NAME
  deactivate  -username NAME
  invite      -username NAME [-purpose sign-up|email-change|reset-password|reactivate]

configuration comes from PERSONDIR_* environment variables.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "persondirctl: %v\n", err)
		os.Exit(1)
	}
	log, err := settings.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "persondirctl: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	client, err := newClient(settings, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "persondirctl: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	repo := repository.New(client, &settings.Directory, log)
	mailer := notify.NewLogMailer(log)
	ctx := context.Background()

	if err := run(ctx, repo, settings, mailer, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "persondirctl: %v\n", err)
		os.Exit(1)
	}
}

func newClient(settings *config.Settings, log *zap.Logger) (directory.Client, error) {
	if settings.Fake {
		return directory.NewFakeClient(), nil
	}
	return directory.NewClient(&settings.Directory, log)
}

func run(ctx context.Context, repo *repository.Repository, settings *config.Settings, mailer notify.Mailer, command string, args []string) error {
	switch command {
	case "add":
		return runAdd(ctx, repo, args)
	case "show":
		return runShow(ctx, repo, args)
	case "exists":
		return runExists(ctx, repo, args)
	case "update":
		return runUpdate(ctx, repo, args)
	case "passwd":
		return runPasswd(ctx, repo, args)
	case "activate", "deactivate":
		return runActive(ctx, repo, command, args)
	case "invite":
		return runInvite(ctx, repo, settings, mailer, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runAdd(ctx context.Context, repo *repository.Repository, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	first := fs.String("first", "", "first name")
	surname := fs.String("surname", "", "surname")
	username := fs.String("username", "", "account name")
	email := fs.String("email", "", "email address")
	display := fs.String("display", "", "display name")
	password := fs.String("password", "", "initial password")
	fs.Parse(args)

	p, err := person.New(person.Fields{
		FirstName:   *first,
		Surname:     *surname,
		Username:    *username,
		Email:       *email,
		DisplayName: *display,
		Password:    *password,
	})
	if err != nil {
		return err
	}
	if err := repo.AddPerson(ctx, p); err != nil {
		return err
	}
	fmt.Printf("added %s\n", p.Username())
	return nil
}

func runShow(ctx context.Context, repo *repository.Repository, args []string) error {
	p, err := lookup(ctx, repo, "show", args)
	if err != nil {
		return err
	}
	f := p.Snapshot()
	fmt.Printf("username:     %s\n", f.Username)
	fmt.Printf("first name:   %s\n", f.FirstName)
	fmt.Printf("surname:      %s\n", f.Surname)
	fmt.Printf("display name: %s\n", f.DisplayName)
	fmt.Printf("email:        %s\n", f.Email)

	active, err := repo.IsActive(ctx, f.Username)
	if err == nil {
		fmt.Printf("active:       %t\n", active)
	}
	return nil
}

func runExists(ctx context.Context, repo *repository.Repository, args []string) error {
	fs := flag.NewFlagSet("exists", flag.ExitOnError)
	username := fs.String("username", "", "account name")
	email := fs.String("email", "", "email address")
	fs.Parse(args)

	var exists bool
	var err error
	switch {
	case *username != "":
		exists, err = repo.UsernameExists(ctx, *username)
	case *email != "":
		exists, err = repo.EmailExists(ctx, *email)
	default:
		return fmt.Errorf("exists requires -username or -email")
	}
	if err != nil {
		return err
	}
	fmt.Println(exists)
	return nil
}

func runUpdate(ctx context.Context, repo *repository.Repository, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	username := fs.String("username", "", "account name")
	first := fs.String("first", "", "first name")
	surname := fs.String("surname", "", "surname")
	email := fs.String("email", "", "email address")
	display := fs.String("display", "", "display name")
	fs.Parse(args)

	if *username == "" {
		return fmt.Errorf("update requires -username")
	}
	p, err := repo.PersonByUsername(ctx, *username)
	if err != nil {
		return err
	}
	if *first != "" {
		p.FirstName = *first
	}
	if *surname != "" {
		p.Surname = *surname
	}
	if *email != "" {
		p.Email = *email
	}
	if *display != "" {
		p.SetDisplayName(*display)
	}
	if err := repo.UpdatePerson(ctx, p, false); err != nil {
		return err
	}
	fmt.Printf("updated %s\n", p.Username())
	return nil
}

func runPasswd(ctx context.Context, repo *repository.Repository, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	username := fs.String("username", "", "account name")
	password := fs.String("password", "", "new password")
	fs.Parse(args)

	if *username == "" || *password == "" {
		return fmt.Errorf("passwd requires -username and -password")
	}
	p, err := repo.PersonByUsername(ctx, *username)
	if err != nil {
		return err
	}
	if err := p.SetPassword(*password); err != nil {
		return err
	}
	if err := repo.UpdatePerson(ctx, p, true); err != nil {
		return err
	}
	fmt.Printf("password changed for %s\n", p.Username())
	return nil
}

func runActive(ctx context.Context, repo *repository.Repository, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "account name")
	fs.Parse(args)

	if *username == "" {
		return fmt.Errorf("%s requires -username", command)
	}
	var err error
	if command == "activate" {
		err = repo.ActivatePerson(ctx, *username)
	} else {
		err = repo.DeactivatePerson(ctx, *username)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%sd %s\n", command, *username)
	return nil
}

func runInvite(ctx context.Context, repo *repository.Repository, settings *config.Settings, mailer notify.Mailer, args []string) error {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	username := fs.String("username", "", "account name")
	purpose := fs.String("purpose", string(token.PurposeSignUp), "confirmation flow")
	fs.Parse(args)

	if *username == "" {
		return fmt.Errorf("invite requires -username")
	}
	tokenPurpose, err := parsePurpose(*purpose)
	if err != nil {
		return err
	}
	if settings.Token.SigningKey == "" {
		return fmt.Errorf("invite requires PERSONDIR_TOKEN_KEY")
	}
	if settings.ConfirmBaseURL == "" {
		return fmt.Errorf("invite requires PERSONDIR_CONFIRM_BASE_URL")
	}

	p, err := repo.PersonByUsername(ctx, *username)
	if err != nil {
		return err
	}
	f := p.Snapshot()
	if f.Email == "" {
		return fmt.Errorf("%s has no email address on record", f.Username)
	}

	svc := token.NewService(settings.Token.SigningKey, settings.Token.Issuer, settings.Token.Lifetime)
	t, err := svc.Generate(f.Username, f.Email, tokenPurpose)
	if err != nil {
		return err
	}

	confirmURL := settings.ConfirmBaseURL + "?token=" + url.QueryEscape(t)
	msg := notify.ConfirmationMessage(notify.Contact{Name: f.DisplayName, Email: f.Email}, tokenPurpose, confirmURL)
	if err := mailer.Send(ctx, msg); err != nil {
		return err
	}
	fmt.Printf("invited %s (%s)\n", f.Username, tokenPurpose)
	return nil
}

func parsePurpose(s string) (token.Purpose, error) {
	switch p := token.Purpose(s); p {
	case token.PurposeSignUp, token.PurposeEmailChange, token.PurposeResetPassword, token.PurposeReactivate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown purpose %q", s)
	}
}

func lookup(ctx context.Context, repo *repository.Repository, command string, args []string) (*person.Person, error) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "account name")
	email := fs.String("email", "", "email address")
	fs.Parse(args)

	switch {
	case *username != "":
		return repo.PersonByUsername(ctx, *username)
	case *email != "":
		return repo.PersonByEmail(ctx, *email)
	default:
		return nil, fmt.Errorf("%s requires -username or -email", command)
	}
}
