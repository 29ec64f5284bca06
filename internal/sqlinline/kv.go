package sqlinline

// Key-value store queries. The table identifier is substituted with
// fmt.Sprintf after quoting, so every template carries exactly one %s per
// table reference and the marker stays on the first line.

const QKVCreateTable = `--sql 3f0b7a52-9c1e-4d8a-b6f2-51a0c7d9e410
create table if not exists %[1]s (
    key text primary key,
    value text not null,
    updated_at timestamptz not null default now()
)
`

const QKVGet = `--sql 8d2c4e61-0a7b-4f3e-9c55-7e1b2a6d9f03
select value from %s where key = $1
`

const QKVUpsert = `--sql c41e9a07-5b3d-4c2f-8e6a-0f9d7b1c2a58
insert into %s (key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update set
    value = excluded.value,
    updated_at = now()
`

const QKVDelete = `--sql 6a9f1d3b-2e8c-4b07-a1d4-93c5e7f20b6e
delete from %s where key = $1
`

const QKVKeys = `--sql e27b5c90-4f1a-4d6e-b3c8-1a0d9e7f5b24
select key from %s order by key
`
