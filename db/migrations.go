package db

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		suspended INTEGER NOT NULL DEFAULT 0,
		auto_accept_follows INTEGER NOT NULL DEFAULT 1,
		last_fetched_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, host)
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_uri ON actors(uri) WHERE uri != '';
	`

	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes (
		id TEXT NOT NULL PRIMARY KEY,
		author_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		cw TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		visible_actor_ids TEXT NOT NULL DEFAULT '[]',
		reply_id TEXT NOT NULL DEFAULT '',
		quote_id TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '[]',
		mention_ids TEXT NOT NULL DEFAULT '[]',
		emojis TEXT NOT NULL DEFAULT '[]',
		reactions TEXT NOT NULL DEFAULT '{}',
		has_poll INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// one post per origin URI: duplicate federated delivery loses here
	sqlCreateNotesIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_uri ON notes(uri) WHERE uri != '';
		CREATE INDEX IF NOT EXISTS idx_notes_author_id ON notes(author_id);
		CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);
	`

	sqlCreatePollsTable = `CREATE TABLE IF NOT EXISTS polls (
		note_id TEXT NOT NULL PRIMARY KEY,
		choices TEXT NOT NULL DEFAULT '[]',
		votes TEXT NOT NULL DEFAULT '[]',
		multiple INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMP
	)`

	sqlCreatePollVotesTable = `CREATE TABLE IF NOT EXISTS poll_votes (
		id TEXT NOT NULL PRIMARY KEY,
		note_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		choice INTEGER NOT NULL,
		single INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(note_id, actor_id, choice)
	)`

	// single-choice polls additionally get one vote per (voter, poll)
	sqlCreatePollVotesIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_poll_votes_single ON poll_votes(note_id, actor_id) WHERE single = 1;
	`

	sqlCreateReactionsTable = `CREATE TABLE IF NOT EXISTS reactions (
		id TEXT NOT NULL PRIMARY KEY,
		note_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(note_id, actor_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		followee_id TEXT NOT NULL,
		follower_host TEXT NOT NULL DEFAULT '',
		followee_host TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, followee_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id);
		CREATE INDEX IF NOT EXISTS idx_follows_followee_id ON follows(followee_id);
	`

	sqlCreateFollowRequestsTable = `CREATE TABLE IF NOT EXISTS follow_requests (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		followee_id TEXT NOT NULL,
		follower_host TEXT NOT NULL DEFAULT '',
		followee_host TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, followee_id)
	)`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		blocker_id TEXT NOT NULL,
		blockee_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(blocker_id, blockee_id)
	)`

	sqlCreateMutesTable = `CREATE TABLE IF NOT EXISTS mutes (
		id TEXT NOT NULL PRIMARY KEY,
		muter_id TEXT NOT NULL,
		mutee_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(muter_id, mutee_id)
	)`

	sqlCreateEmojisTable = `CREATE TABLE IF NOT EXISTS emojis (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP,
		UNIQUE(name, host)
	)`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		id TEXT NOT NULL PRIMARY KEY,
		host TEXT NOT NULL UNIQUE,
		caught_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		delivery_successes INTEGER NOT NULL DEFAULT 0,
		delivery_failures INTEGER NOT NULL DEFAULT 0,
		blocked INTEGER NOT NULL DEFAULT 0,
		last_communicated_at TIMESTAMP
	)`

	sqlCreateDeliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_deliveries_next_attempt_at ON deliveries(next_attempt_at);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT NOT NULL UNIQUE,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL DEFAULT '',
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
)

// RunMigrations creates all tables and indices.
func (db *DB) RunMigrations() error {
	stmts := []string{
		sqlCreateActorsTable,
		sqlCreateActorsIndices,
		sqlCreateNotesTable,
		sqlCreateNotesIndices,
		sqlCreatePollsTable,
		sqlCreatePollVotesTable,
		sqlCreatePollVotesIndices,
		sqlCreateReactionsTable,
		sqlCreateFollowsTable,
		sqlCreateFollowsIndices,
		sqlCreateFollowRequestsTable,
		sqlCreateBlocksTable,
		sqlCreateMutesTable,
		sqlCreateEmojisTable,
		sqlCreateInstancesTable,
		sqlCreateDeliveriesTable,
		sqlCreateDeliveriesIndices,
		sqlCreateActivitiesTable,
	}

	for _, stmt := range stmts {
		if _, err := db.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
