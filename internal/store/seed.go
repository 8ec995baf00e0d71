package store

// SeedPorts is the default port set installed on first startup: three
// active ports, two inactive ports, none pre-flagged as decoy-mode.
func SeedPorts() []Port {
	return []Port{
		{Port: 8001, Status: PortStatusActive, Decoy: false, LastTriggered: "Never"},
		{Port: 8002, Status: PortStatusActive, Decoy: false, LastTriggered: "Never"},
		{Port: 8003, Status: PortStatusActive, Decoy: false, LastTriggered: "Never"},
		{Port: 8004, Status: PortStatusInactive, Decoy: false, LastTriggered: "Never"},
		{Port: 8005, Status: PortStatusInactive, Decoy: false, LastTriggered: "Never"},
	}
}

// SeedUsers is the default user set installed on first startup.
func SeedUsers() map[string]string {
	return map[string]string{"user": "password"}
}

// EnsureSeeded installs the default ports and users collections if they
// are currently empty. Called once at startup after Open.
func EnsureSeeded(s *Store) error {
	var ports []Port
	if err := s.Load(CollectionPorts, &ports); err != nil {
		return err
	}
	if len(ports) == 0 {
		if err := s.Save(CollectionPorts, SeedPorts()); err != nil {
			return err
		}
	}

	var users map[string]string
	if err := s.Load(CollectionUsers, &users); err != nil {
		return err
	}
	if len(users) == 0 {
		if err := s.Save(CollectionUsers, SeedUsers()); err != nil {
			return err
		}
	}

	return nil
}
