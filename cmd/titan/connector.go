package main

import (
	"context"

	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

func (c *ConnectorListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	connectors, err := a.store.ListConnectors(context.Background())
	if err != nil {
		return err
	}
	a.output(connectors, func() {
		for _, conn := range connectors {
			a.printf("%-20s %-10s secret_key=%s\n", conn.Name, conn.Type, conn.SecretKey)
		}
	})
	return nil
}

func (c *ConnectorAddCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := parseJSONArg(c.Fields); err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "connector.add", "parse --fields", err)
	}
	secretKey := c.SecretKey
	if secretKey == "" {
		secretKey = a.cfg.CredentialEnv(c.Name)
	}
	conn := &store.Connector{Type: c.Type, Name: c.Name, Fields: c.Fields, SecretKey: secretKey}
	if err := a.store.AddConnector(context.Background(), conn); err != nil {
		return err
	}
	a.output(conn, func() {
		a.printf("connector %s added (credential key %s)\n", conn.Name, conn.SecretKey)
	})
	return nil
}

func (c *ConnectorConfigureCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := parseJSONArg(c.Fields); err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "connector.configure", "parse --fields", err)
	}
	ctx := context.Background()
	conn, err := a.store.GetConnector(ctx, c.Ref)
	if err != nil {
		return err
	}
	secretKey := c.SecretKey
	if secretKey == "" {
		secretKey = conn.SecretKey
	}
	if err := a.store.UpdateConnector(ctx, c.Ref, c.Fields, secretKey); err != nil {
		return err
	}
	a.printf("connector %s updated\n", c.Ref)
	return nil
}

func (c *ConnectorTestCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.mediator.Test(context.Background(), c.Ref); err != nil {
		return err
	}
	a.printf("connector %s: ok\n", c.Ref)
	return nil
}

func (c *ConnectorRemoveCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.RemoveConnector(context.Background(), c.Ref); err != nil {
		return err
	}
	a.printf("connector %s removed\n", c.Ref)
	return nil
}
