package main

import (
	"context"
	"fmt"

	"github.com/Djtony707/TITAN/internal/skillrt"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

func (c *SkillSearchCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	reg, err := skillrt.OpenRegistry(c.Source)
	if err != nil {
		return err
	}
	entries, err := reg.Search(context.Background(), c.Query)
	if err != nil {
		return err
	}
	a.output(entries, func() {
		for _, e := range entries {
			a.printf("%-24s %-10s %s\n", e.Slug, e.Version, e.Description)
		}
	})
	return nil
}

// Run installs a skill. The command blocks on the install approval; approve
// it from another terminal or the web surface.
func (c *SkillInstallCmd) Run(cli *CLI) error {
	return installSkill(cli, c.Source, c.Slug, c.Force)
}

func (c *SkillUpdateCmd) Run(cli *CLI) error {
	return installSkill(cli, c.Source, c.Slug, c.Force)
}

func installSkill(cli *CLI, source, slug string, force bool) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	reg, err := skillrt.OpenRegistry(source)
	if err != nil {
		return err
	}
	a.approvals.Start(ctx)
	a.printf("staging %s; waiting for install approval (titan approval list)\n", slug)
	installed, err := a.skills.Install(ctx, reg, slug, skillrt.InstallOptions{Force: force})
	if err != nil {
		return err
	}
	a.output(installed, func() {
		a.printf("installed %s@%s (%s)\n", installed.Slug, installed.Version, installed.SigStatus)
	})
	return nil
}

func (c *SkillListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	skills, err := a.store.ListInstalledSkills(context.Background())
	if err != nil {
		return err
	}
	a.output(skills, func() {
		for _, sk := range skills {
			flag := ""
			if sk.NeedsReview {
				flag = "  [needs review]"
			}
			a.printf("%-24s %-10s %-9s%s\n", sk.Slug, sk.Version, sk.SigStatus, flag)
		}
	})
	return nil
}

func (c *SkillInspectCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	m, installed, err := a.skills.InstalledManifest(context.Background(), c.Slug)
	if err != nil {
		return err
	}
	a.output(map[string]any{"manifest": m, "installed": installed}, func() {
		a.printf("%s@%s  %s\n  entrypoint: %s %s\n  scopes: %v\n  paths:  %v\n  hosts:  %v\n  hash:   %s\n",
			m.Slug, m.Version, m.Description, m.Entrypoint.Kind, m.Entrypoint.Target,
			m.Scopes, m.AllowedPaths, m.AllowedHosts, installed.BundleHash)
	})
	return nil
}

func (c *SkillRemoveCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.skills.Remove(context.Background(), c.Slug); err != nil {
		return err
	}
	a.printf("removed %s\n", c.Slug)
	return nil
}

func (c *SkillRunCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	input, err := parseJSONArg(c.Input)
	if err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "skill.run", "parse --input", err)
	}
	a.approvals.Start(ctx)
	result, err := a.skills.Run(ctx, c.Slug, input, "")
	if err != nil {
		return err
	}
	a.output(result, func() {
		fmt.Println(result.Output)
	})
	return nil
}

func (c *SkillValidateCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.skills.Validate(context.Background(), c.Slug); err != nil {
		return err
	}
	a.printf("%s: ok\n", c.Slug)
	return nil
}

func (c *SkillDoctorCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	skills, err := a.store.ListInstalledSkills(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, sk := range skills {
		if err := a.skills.Validate(ctx, sk.Slug); err != nil {
			failed++
			a.printf("%-24s FAIL  %s\n", sk.Slug, err.Error())
			continue
		}
		a.printf("%-24s ok\n", sk.Slug)
	}
	if failed > 0 {
		return titanerr.New(titanerr.KindValidation, "skill.doctor", fmt.Sprintf("%d skill(s) failed validation", failed))
	}
	return nil
}

// Run generates a signing key pair for the trust store.
func (c *SkillKeygenCmd) Run(cli *CLI) error {
	privPath := c.Output + ".pem"
	pubPath := c.Output + ".pub"

	pub, priv, err := skillrt.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := skillrt.SavePrivateKey(privPath, priv); err != nil {
		return err
	}
	if err := skillrt.SavePublicKey(pubPath, pub); err != nil {
		return err
	}
	fmt.Printf("✓ Generated key pair\n")
	fmt.Printf("  Private key: %s (keep secret!)\n", privPath)
	fmt.Printf("  Public key:  %s (copy into the trust store to verify)\n", pubPath)
	return nil
}

func (c *SkillSignCmd) Run(cli *CLI) error {
	m, err := skillrt.LoadManifest(c.Dir)
	if err != nil {
		return err
	}
	key, err := skillrt.LoadPrivateKey(c.Key)
	if err != nil {
		return err
	}
	if err := skillrt.SignBundle(c.Dir, m, key); err != nil {
		return err
	}
	fmt.Printf("signed %s@%s\n", m.Slug, m.Version)
	return nil
}
